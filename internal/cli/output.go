package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/bytedance/sonic"
)

var jsonCodec = sonic.ConfigStd

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := jsonCodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}
