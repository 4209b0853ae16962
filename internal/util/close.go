package util

import (
	"io"
	"os"
	"reflect"

	"github.com/pkg/errors"
)

// CloseWithErr closes c and logs a failure under name. Nil closers, typed nil
// pointers and files that are already closed are ignored.
func CloseWithErr(c io.Closer, name string) {
	if c == nil {
		return
	}
	if v := reflect.ValueOf(c); v.Kind() == reflect.Ptr && v.IsNil() {
		return
	}
	err := c.Close()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	if name == "" {
		name = "resource"
	}
	Warnf("close %s: %v", name, err)
}
