package worker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quartzqueue/internal/exec/lang"
)

func TestWriteUserCodeWritesEntryFileUnderLanguageExtension(t *testing.T) {
	dir := t.TempDir()
	variant := lang.Get(lang.Python)
	require.NotNil(t, variant)

	require.NoError(t, writeUserCode(dir, variant, "def main():\n    return 1\n"))

	got, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "def main")
}

func TestWriteUserCodeMaterializesWrapperWithEntryNameSubstituted(t *testing.T) {
	dir := t.TempDir()
	variant := lang.Get(lang.TypeScriptBun)
	require.NotNil(t, variant)

	require.NoError(t, writeUserCode(dir, variant, "export function main() { return 1; }"))

	wrapper, err := os.ReadFile(filepath.Join(dir, variant.WrapperFile))
	require.NoError(t, err)
	assert.Contains(t, string(wrapper), `from "./main"`)
	assert.NotContains(t, string(wrapper), "{{USER_ENTRY}}")
}

func TestWriteUserCodeWritesEmptyWrapperWhenVariantHasNoTemplate(t *testing.T) {
	dir := t.TempDir()
	variant := lang.Get(lang.TypeScriptDeno)
	require.NotNil(t, variant)
	require.Empty(t, variant.WrapperSource, "deno has a WrapperFile name but no template body in this build")

	require.NoError(t, writeUserCode(dir, variant, "console.log(1)"))

	wrapper, err := os.ReadFile(filepath.Join(dir, variant.WrapperFile))
	require.NoError(t, err)
	assert.Empty(t, wrapper)
}

func TestWriteUserCodeSkipsWrapperWhenVariantNamesNoWrapperFile(t *testing.T) {
	dir := t.TempDir()
	variant := &lang.Variant{Name: lang.Go, WrapperFile: ""}
	userEntryExtensions[variant.Name] = "go"

	require.NoError(t, writeUserCode(dir, variant, "package main"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the user entry file should be written")
}

func TestWriteUserCodeRejectsQueryLanguageVariants(t *testing.T) {
	dir := t.TempDir()
	variant := &lang.Variant{Name: lang.PostgresQuery}

	err := writeUserCode(dir, variant, "select 1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no child-process entry point")
}

func TestWriteUserCodeRejectsUnknownVariant(t *testing.T) {
	dir := t.TempDir()
	variant := &lang.Variant{Name: lang.Name("not-a-real-language")}

	err := writeUserCode(dir, variant, "whatever")
	assert.Error(t, err)
}

func TestFingerprintSourceIsDeterministic(t *testing.T) {
	a := fingerprintSource("print(1)")
	b := fingerprintSource("print(1)")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64, "sha256 hex digest is 64 characters")
}

func TestFingerprintSourceDiffersOnContentChange(t *testing.T) {
	a := fingerprintSource("print(1)")
	b := fingerprintSource("print(2)")
	assert.NotEqual(t, a, b)
}
