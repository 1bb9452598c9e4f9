package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

// tabPrinter は列を揃えて出力する。
type tabPrinter struct {
	w *tabwriter.Writer
}

func (p *tabPrinter) row(cols ...string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(p.w, "\t")
		}
		fmt.Fprint(p.w, c)
	}
	fmt.Fprintln(p.w)
}

// print は--jsonの場合はvをJSONで、それ以外はtextで表形式に出力する。
func (a *app) print(v any, text func(*tabPrinter)) error {
	return render(a.out, a.jsonOutput, v, text)
}

func render(out io.Writer, asJSON bool, v any, text func(*tabPrinter)) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	p := &tabPrinter{w: tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)}
	text(p)
	return p.w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
