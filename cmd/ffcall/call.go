package main

import (
	"errors"
	"flag"
	"fmt"

	"github.com/tinyrange/ffcall/internal/callplan"
)

func callMain(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	lib := fs.String("lib", "", "shared library to load")
	sym := fs.String("sym", "", "exported function to call")
	conv := conventionFlag(fs)
	ret := fs.String("ret", "i64", "result kind (i8..i64, u8..u64, f32, f64, ptr, void)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: ffcall call -lib LIB -sym SYMBOL [flags] [kind:value ...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *lib == "" || *sym == "" {
		fs.Usage()
		return errors.New("call: -lib and -sym are required")
	}

	c := callplan.Call{
		Name:       *sym,
		Library:    *lib,
		Symbol:     *sym,
		Convention: *conv,
		Args:       fs.Args(),
		Returns:    *ret,
	}

	libs := newLoader()
	defer libs.Close()

	iface, err := openCall(libs, &c)
	if err != nil {
		return err
	}
	defer iface.Close()

	if err := iface.Invoke(); err != nil {
		return err
	}
	result, err := callplan.FormatReturn(iface, c.Returns)
	if err != nil {
		return err
	}
	if result != "" {
		fmt.Println(result)
	}
	return nil
}
