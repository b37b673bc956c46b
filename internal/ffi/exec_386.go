//go:build 386

package ffi

// callStub is implemented in exec_386.s.
func callStub(entry uintptr)

func enter(entry uintptr) error {
	callStub(entry)
	return nil
}
