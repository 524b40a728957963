package engine_test

import "os"

func exampleDir() (string, func()) {
	dir, err := os.MkdirTemp("", "macforge-example")
	if err != nil {
		panic(err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }
}
