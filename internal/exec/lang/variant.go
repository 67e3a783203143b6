// Package lang holds the closed set of per-language execution policies the
// harness dispatches on (spec §4.E).
package lang

// Name identifies a supported language variant. The set is closed: adding
// support for a new language means adding a new Name and registering its
// Variant, not threading a string through the harness.
type Name string

const (
	ScriptShell      Name = "script-shell"
	TypeScriptDeno   Name = "typescript-deno"
	TypeScriptBun    Name = "typescript-bun"
	TypeScriptNative Name = "typescript-native"
	Python           Name = "python"
	Go               Name = "go"
	Bash             Name = "bash"
	PowerShell       Name = "powershell"
	PHP              Name = "php"
	Rust             Name = "rust"
	PostgresQuery    Name = "postgres-query"
	MySQLQuery       Name = "mysql-query"
	MSSQLQuery       Name = "mssql-query"
	BigQueryQuery    Name = "bigquery-query"
	SnowflakeQuery   Name = "snowflake-query"
	GraphQLQuery     Name = "graphql-query"
	CSharp           Name = "csharp"
	Java             Name = "java"
	Ansible          Name = "ansible"
	DuckDB           Name = "duckdb"
	Nu               Name = "nu"
	Oracle           Name = "oracle"
)

// Variant is the closed policy object the harness consults to prepare and
// launch one job (spec §4.E: preamble, wrapper, sandbox mode, cache root).
type Variant struct {
	Name Name

	// Interpreter is the program the harness execs; Args are its fixed
	// leading arguments, with the wrapper entry point appended last.
	Interpreter string
	Args        []string

	// WrapperFile is the generated entry-point filename materialized into
	// the job's scratch directory alongside args.json and the user's code
	// (spec §6 "Bun/TypeScript" example: main.ts + wrapper.ts).
	WrapperFile string
	// WrapperSource is the wrapper's template body. {{USER_ENTRY}} is
	// substituted with the user code's module/file name at materialization
	// time.
	WrapperSource string

	// NeedsLockfile is true for languages whose dependency set must be
	// resolved (spec §4.F) before the wrapper can run.
	NeedsLockfile bool

	// CacheSubdir names the language's slice of the shared dependency cache
	// root (spec §4.E "Cache roots").
	CacheSubdir string

	// DefaultSandbox is the sandbox mode used when the job doesn't
	// override it.
	DefaultSandbox string
}

// registry is populated by init via register calls below — one per
// supported language, so every entry in the spec's variant list has a
// concrete (if minimal) policy.
var registry = map[Name]*Variant{}

func register(v *Variant) {
	registry[v.Name] = v
}

// Get returns the Variant for name, or nil if unsupported.
func Get(name Name) *Variant {
	return registry[name]
}

// Names returns every registered language name.
func Names() []Name {
	names := make([]Name, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

func init() {
	register(&Variant{
		Name:           TypeScriptBun,
		Interpreter:    "bun",
		Args:           []string{"run"},
		WrapperFile:    "wrapper.ts",
		NeedsLockfile:  true,
		CacheSubdir:    "bun",
		DefaultSandbox: "namespace-isolated",
		WrapperSource: `import * as mod from "./{{USER_ENTRY}}";
import * as fs from "fs";

const args = JSON.parse(fs.readFileSync("args.json", "utf8"), reviveDates);

function reviveDates(_key: string, value: unknown) {
	if (typeof value === "string" && /^\d{4}-\d{2}-\d{2}T/.test(value)) {
		const d = new Date(value);
		if (!isNaN(d.getTime())) return d;
	}
	return value;
}

(async () => {
	try {
		const result = await mod.main(...Object.values(args));
		fs.writeFileSync("result.json", JSON.stringify(result, bigintReplacer));
		process.exit(0);
	} catch (err: any) {
		fs.writeFileSync("result.json", JSON.stringify({
			message: err?.message ?? String(err),
			name: err?.name ?? "Error",
			stack: err?.stack ?? "",
		}));
		process.exit(1);
	}
})();

function bigintReplacer(_key: string, value: unknown) {
	return typeof value === "bigint" ? value.toString() : value;
}
`,
	})

	register(&Variant{
		Name:           TypeScriptDeno,
		Interpreter:    "deno",
		Args:           []string{"run", "--allow-read", "--allow-env"},
		WrapperFile:    "wrapper.ts",
		NeedsLockfile:  true,
		CacheSubdir:    "deno",
		DefaultSandbox: "namespace-isolated",
	})

	register(&Variant{
		Name:           TypeScriptNative,
		Interpreter:    "node",
		Args:           []string{},
		WrapperFile:    "wrapper.mjs",
		NeedsLockfile:  true,
		CacheSubdir:    "node",
		DefaultSandbox: "namespace-isolated",
	})

	register(&Variant{
		Name:           Python,
		Interpreter:    "python3",
		Args:           []string{},
		WrapperFile:    "wrapper.py",
		NeedsLockfile:  true,
		CacheSubdir:    "python",
		DefaultSandbox: "namespace-isolated",
		WrapperSource: `import json, sys
import datetime

def _revive(obj):
	if isinstance(obj, dict):
		return {k: _revive(v) for k, v in obj.items()}
	if isinstance(obj, str):
		try:
			return datetime.datetime.fromisoformat(obj.replace("Z", "+00:00"))
		except ValueError:
			return obj
	return obj

with open("args.json") as f:
	args = _revive(json.load(f))

import main as user_main

try:
	result = user_main.main(**args) if isinstance(args, dict) else user_main.main(*args)
	with open("result.json", "w") as f:
		json.dump(result, f, default=str)
	sys.exit(0)
except Exception as e:
	with open("result.json", "w") as f:
		json.dump({"message": str(e), "name": type(e).__name__}, f)
	sys.exit(1)
`,
	})

	register(&Variant{
		Name:           Go,
		Interpreter:    "go",
		Args:           []string{"run"},
		WrapperFile:    "wrapper.go",
		NeedsLockfile:  true,
		CacheSubdir:    "go",
		DefaultSandbox: "unshare-light",
	})

	register(&Variant{
		Name:           ScriptShell,
		Interpreter:    "sh",
		Args:           []string{"-c"},
		DefaultSandbox: "direct",
	})
	register(&Variant{
		Name:           Bash,
		Interpreter:    "bash",
		Args:           []string{},
		DefaultSandbox: "direct",
	})
	register(&Variant{
		Name:           PowerShell,
		Interpreter:    "pwsh",
		Args:           []string{"-File"},
		DefaultSandbox: "direct",
	})
	register(&Variant{
		Name:           PHP,
		Interpreter:    "php",
		Args:           []string{},
		NeedsLockfile:  true,
		CacheSubdir:    "php",
		DefaultSandbox: "namespace-isolated",
	})
	register(&Variant{
		Name:           Rust,
		Interpreter:    "rust-script",
		Args:           []string{},
		NeedsLockfile:  true,
		CacheSubdir:    "rust",
		DefaultSandbox: "unshare-light",
	})
	register(&Variant{
		Name:           CSharp,
		Interpreter:    "dotnet",
		Args:           []string{"run"},
		NeedsLockfile:  true,
		CacheSubdir:    "dotnet",
		DefaultSandbox: "namespace-isolated",
	})
	register(&Variant{
		Name:           Java,
		Interpreter:    "java",
		Args:           []string{},
		NeedsLockfile:  true,
		CacheSubdir:    "java",
		DefaultSandbox: "namespace-isolated",
	})
	register(&Variant{
		Name:           Ansible,
		Interpreter:    "ansible-playbook",
		Args:           []string{},
		DefaultSandbox: "unshare-light",
	})
	register(&Variant{
		Name:           DuckDB,
		Interpreter:    "duckdb",
		Args:           []string{},
		DefaultSandbox: "direct",
	})
	register(&Variant{
		Name:           Nu,
		Interpreter:    "nu",
		Args:           []string{},
		DefaultSandbox: "direct",
	})

	// The SQL/query variants are registered with no Interpreter and no
	// WrapperFile. Nothing executes them: the worker's writeUserCode
	// rejects them with an error, so a job in one of these languages fails
	// before any child process is started.
	for _, n := range []Name{PostgresQuery, MySQLQuery, MSSQLQuery, BigQueryQuery, SnowflakeQuery, GraphQLQuery, Oracle} {
		register(&Variant{Name: n, DefaultSandbox: "direct"})
	}
}
