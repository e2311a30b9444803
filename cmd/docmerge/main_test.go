package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FocuswithJustin/docmerge/core/docx"
	"github.com/FocuswithJustin/docmerge/core/docx/docxtest"
	"github.com/FocuswithJustin/docmerge/core/errors"
	"github.com/FocuswithJustin/docmerge/internal/config"
)

func init() {
	color.NoColor = true
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var (
		cli CLI
		out bytes.Buffer
	)
	parser, err := newParser(&cli, &out)
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	if err != nil {
		return out.String(), err
	}
	err = ctx.Run()
	return out.String(), err
}

func testRepository(t *testing.T) string {
	t.Helper()
	t.Setenv(config.RepositoryEnv, "")
	root := t.TempDir()
	docxtest.New().Paragraph("Alpha").Image("rId5", "media/a.png", docxtest.PNG).WriteFile(t, root, "letters/a.docx")
	docxtest.New().Paragraph("Beta").Image("rId5", "media/b.png", []byte("other image")).WriteFile(t, root, "letters/b.docx")
	docxtest.New().Paragraph("Gamma").WriteFile(t, root, "reports/q1.docx")
	return root
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "docmerge version dev\n", out)
}

func TestList(t *testing.T) {
	root := testRepository(t)

	out, err := run(t, "--log-level", "error", "-r", root, "list")
	require.NoError(t, err)
	assert.Equal(t, "letters/\n  a.docx\n  b.docx\nreports/\n  q1.docx\n", out)

	out, err = run(t, "--log-level", "error", "-r", root, "list", "--json")
	require.NoError(t, err)
	var listing map[string][]string
	require.NoError(t, json.Unmarshal([]byte(out), &listing))
	assert.Equal(t, map[string][]string{"letters": {"a.docx", "b.docx"}, "reports": {"q1.docx"}}, listing)
}

func TestListRepositoryFromEnv(t *testing.T) {
	root := testRepository(t)
	t.Setenv(config.RepositoryEnv, root)

	out, err := run(t, "--log-level", "error", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "reports/")
}

func TestListRequiresRepository(t *testing.T) {
	t.Setenv(config.RepositoryEnv, "")
	_, err := run(t, "list")
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "repository", ve.Field)
}

func TestMerge(t *testing.T) {
	root := testRepository(t)
	output := filepath.Join(t.TempDir(), "out.docx")

	out, err := run(t, "--log-level", "error", "-r", root, "merge", "-o", output, "reports/q1.docx", "letters/a.docx")
	require.NoError(t, err)
	assert.Contains(t, out, "Merged 2 document(s) into "+output)
	assert.Contains(t, out, "1. reports/q1.docx")
	assert.Contains(t, out, "No resource conflicts (policy remap)")

	doc, err := docx.Open(output)
	require.NoError(t, err)
	var texts []string
	for _, n := range doc.Body() {
		if s := docx.Text(n); s != "" {
			texts = append(texts, s)
		}
	}
	assert.Equal(t, []string{"Gamma", "Alpha"}, texts)
}

func TestMergeReportsConflicts(t *testing.T) {
	root := testRepository(t)
	dir := t.TempDir()

	out, err := run(t, "--log-level", "error", "-r", root, "merge", "-o", filepath.Join(dir, "remap.docx"), "letters/a.docx", "letters/b.docx")
	require.NoError(t, err)
	assert.Contains(t, out, "1 resource conflict(s) (policy remap)")
	assert.Contains(t, out, "letters/b.docx: rId5 media/b.png ->")

	out, err = run(t, "--log-level", "error", "-r", root, "merge", "--policy", "first-wins", "-o", filepath.Join(dir, "first.docx"), "letters/a.docx", "letters/b.docx")
	require.NoError(t, err)
	assert.Contains(t, out, "1 resource conflict(s) (policy first-wins)")
	assert.Contains(t, out, "letters/b.docx: rId5 kept media/a.png, dropped media/b.png")
}

func TestMergeErrors(t *testing.T) {
	root := testRepository(t)
	dir := t.TempDir()

	_, err := run(t, "--log-level", "error", "-r", root, "merge", "-o", filepath.Join(dir, "x.docx"), "letters/a.docx", "nope.docx")
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.NoFileExists(t, filepath.Join(dir, "x.docx"))

	_, err = run(t, "--log-level", "error", "-r", root, "merge", "--policy", "last-wins", "-o", filepath.Join(dir, "x.docx"), "letters/a.docx")
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "merge.collision_policy", ve.Field)

	_, err = run(t, "--log-level", "error", "-r", root, "merge", "-o", filepath.Join(dir, "x.docx"), "../escape.docx")
	assert.ErrorIs(t, err, errors.ErrPathTraversal)
}

func TestConfigFile(t *testing.T) {
	root := testRepository(t)
	cfgPath := filepath.Join(t.TempDir(), "docmerge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("repository: "+root+"\nmerge:\n  collision_policy: first-wins\nlog:\n  level: error\n"), 0644))

	out, err := run(t, "-c", cfgPath, "merge", "-o", filepath.Join(t.TempDir(), "m.docx"), "letters/a.docx", "letters/b.docx")
	require.NoError(t, err)
	assert.Contains(t, out, "policy first-wins")

	_, err = run(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPreview(t *testing.T) {
	root := testRepository(t)
	dir := t.TempDir()

	script := filepath.Join(dir, "fake-wkhtmltopdf")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nfor a in \"$@\"; do out=\"$a\"; done\nprintf '%%PDF-fake' > \"$out\"\n"), 0755))
	cfgPath := filepath.Join(dir, "docmerge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: error\nrenderer:\n  binary: "+script+"\n"), 0644))

	output := filepath.Join(dir, "preview.pdf")
	out, err := run(t, "-c", cfgPath, "-r", root, "preview", "-o", output, "--cache-dir", filepath.Join(dir, "cache"), "reports/q1.docx")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+output)

	pdf, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-fake", string(pdf))

	_, err = run(t, "-c", cfgPath, "-r", root, "preview", "-o", output, "reports/missing.docx")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
