package memory_test

import (
	"testing"

	bt "github.com/tempograph/bitemporal"
	"github.com/tempograph/bitemporal/dbtest"
	"github.com/tempograph/bitemporal/memory"
)

func TestStorage(t *testing.T) {
	dbtest.Run(t, func(t *testing.T) (bt.Storage, func()) {
		return memory.New(), func() {}
	})
}
