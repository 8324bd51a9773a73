package memory

import (
	"testing"

	"kitchenalert/backend/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, New())
}
