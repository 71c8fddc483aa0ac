package cli

import (
	"bytes"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/roach88/harvest/internal/config"
	"github.com/roach88/harvest/internal/sim"
)

func shopProgram() string {
	return filepath.Join("testdata", "shop.yaml")
}

// shopSite serves the list page of shop.yaml with one row per name.
func shopSite(names ...string) *sim.Site {
	list := sim.List{RowXPath: "/html/body/ul/li[*]"}
	pages := []sim.Page{{URL: "https://shop.test/items"}}
	for i, name := range names {
		url := "https://shop.test/items/" + string(rune('1'+i))
		list.Rows = append(list.Rows, []sim.Cell{{Suffix: "/a", Text: name, Link: url}})
		pages = append(pages, sim.Page{URL: url, Nodes: []sim.Node{{XPath: "//h1", Text: strings.ToUpper(name)}}})
	}
	pages[0].Lists = []sim.List{list}
	return sim.NewSite(pages...)
}

// testRoot returns root options backed by a database in a temp dir.
func testRoot(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg := config.Default()
	cfg.Database = filepath.Join(t.TempDir(), "harvest.db")
	return &RootOptions{Format: format, Config: cfg, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// execute runs cmd with args and returns stdout and stderr.
func execute(cmd *cobra.Command, args ...string) (string, string, error) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
