package stores_test

import (
	"context"
	"fmt"
	"os"

	"github.com/macforge/macforge/pkg/stores"
)

// ExampleFileStore shows how completed modules survive between runs.
func ExampleFileStore() {
	dir, err := os.MkdirTemp("", "macforge-state")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store := stores.NewFileStore(dir)

	session, _ := store.Load(ctx)
	session.MarkCompleted("preflight")
	session.MarkCompleted("homebrew")
	if err := store.Save(ctx, session); err != nil {
		panic(err)
	}

	reloaded, _ := store.Load(ctx)
	fmt.Println(reloaded.Completed)
	fmt.Println(reloaded.IsCompleted("ssh"))

	// Output:
	// [preflight homebrew]
	// false
}
