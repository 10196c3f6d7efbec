package memstore

import (
	"testing"

	"github.com/MrEthical07/goIdentity/eventstore/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return New()
	})
}
