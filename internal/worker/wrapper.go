package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobmcallan/quartzqueue/internal/exec/lang"
)

// userEntryExtensions maps a language variant to the file extension its
// user code is written with under the conventional "main" stem the
// variant's wrapper imports (spec §6 "main.ts: the user's code").
var userEntryExtensions = map[lang.Name]string{
	lang.TypeScriptBun:    "ts",
	lang.TypeScriptDeno:   "ts",
	lang.TypeScriptNative: "mjs",
	lang.Python:           "py",
	lang.Go:               "go",
	lang.ScriptShell:      "sh",
	lang.Bash:             "sh",
	lang.PowerShell:       "ps1",
	lang.PHP:              "php",
	lang.Rust:             "rs",
	lang.CSharp:           "cs",
	lang.Java:             "java",
	lang.Ansible:          "yml",
	lang.DuckDB:           "sql",
	lang.Nu:               "nu",
}

// queryVariants are the query-language variants (spec §4.E "For
// query-language variants the execution is: open a connection..."). This
// build executes only the child-process languages: writeUserCode rejects
// every variant in this set, so such a job fails before anything runs.
var queryVariants = map[lang.Name]bool{
	lang.PostgresQuery:  true,
	lang.MySQLQuery:     true,
	lang.MSSQLQuery:     true,
	lang.BigQueryQuery:  true,
	lang.SnowflakeQuery: true,
	lang.GraphQLQuery:   true,
	lang.Oracle:         true,
}

// writeUserCode materializes the job's raw code into the scratch directory
// under the "main.<ext>" convention the variant's wrapper imports, then
// writes the wrapper itself alongside it.
func writeUserCode(scratchDir string, variant *lang.Variant, rawCode string) error {
	if queryVariants[variant.Name] {
		return fmt.Errorf("query-language variant %s has no child-process entry point", variant.Name)
	}

	ext, ok := userEntryExtensions[variant.Name]
	if !ok {
		return fmt.Errorf("no user-entry convention registered for variant %s", variant.Name)
	}
	entryStem := "main"
	entryFile := entryStem + "." + ext
	if err := os.WriteFile(filepath.Join(scratchDir, entryFile), []byte(rawCode), 0o644); err != nil {
		return fmt.Errorf("failed to write user entry file: %w", err)
	}

	if variant.WrapperFile == "" {
		return nil
	}
	wrapperSource := strings.ReplaceAll(variant.WrapperSource, "{{USER_ENTRY}}", entryStem)
	if err := os.WriteFile(filepath.Join(scratchDir, variant.WrapperFile), []byte(wrapperSource), 0o644); err != nil {
		return fmt.Errorf("failed to write wrapper file: %w", err)
	}
	return nil
}

// fingerprintSource derives a stable content fingerprint for dependency
// resolution (spec §4.F "source-code-fingerprint").
func fingerprintSource(rawCode string) string {
	sum := sha256.Sum256([]byte(rawCode))
	return hex.EncodeToString(sum[:])
}
