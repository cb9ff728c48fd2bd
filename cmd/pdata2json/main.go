// Command pdata2json converts a persistence blob to JSON.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/Alainx277/northstar-master-server/internal/pdata"
)

var opt struct {
	Compact bool
	Invert  bool
	Filter  []string
	Help    bool
}

func init() {
	pflag.BoolVarP(&opt.Compact, "compact", "c", false, "Don't format json")
	pflag.BoolVarP(&opt.Invert, "invert", "v", false, "Use filter to include instead of exclude")
	pflag.StringSliceVarP(&opt.Filter, "filter", "e", nil, "Exclude root pdef fields")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [file|-]\n\noptions:\n%s\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var err error
	var buf []byte
	if pflag.NArg() == 1 && pflag.Arg(0) != "-" {
		buf, err = os.ReadFile(pflag.Arg(0))
	} else {
		buf, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: read pdata: %v\n", err)
		os.Exit(1)
	}

	schema, err := pdata.Schema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: parse schema: %v\n", err)
		os.Exit(1)
	}

	d, err := pdata.Decode(schema, buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: decode pdata: %v\n", err)
		os.Exit(1)
	}

	jbuf, err := d.MarshalJSONFilter(mkfilter(opt.Invert, opt.Filter))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: encode json: %v\n", err)
		os.Exit(1)
	}

	var fbuf []byte
	if opt.Compact {
		fbuf, err = json.Marshal(json.RawMessage(jbuf))
	} else {
		fbuf, err = json.MarshalIndent(json.RawMessage(jbuf), "", "    ")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: format json: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stdout, string(fbuf))
}

// mkfilter builds a root-field filter. pdata.Pdata.MarshalJSONFilter only
// ever passes the root field name, so unlike the dotted-path filter this is
// adapted from, there is no nested field selection here.
func mkfilter(invert bool, filter []string) func(path ...string) bool {
	if len(filter) == 0 {
		return nil
	}
	want := make(map[string]bool, len(filter))
	for _, f := range filter {
		want[f] = true
	}
	return func(path ...string) bool {
		if invert {
			return want[path[0]]
		}
		return !want[path[0]]
	}
}
