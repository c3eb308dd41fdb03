package extensions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeReservationsTakesMax(t *testing.T) {
	r := RuntimeConfigReservations{"threads": 2, "heap_bytes": 1024}
	r.Merge(RuntimeConfigReservations{"threads": 8, "heap_bytes": 512})

	assert.Equal(t, int64(8), r["threads"], "a higher request from another extension must win")
	assert.Equal(t, int64(1024), r["heap_bytes"], "a lower request from another extension must not shrink the reservation")
}

func TestMergeReservationsAddsNewKeys(t *testing.T) {
	r := RuntimeConfigReservations{}
	r.Merge(RuntimeConfigReservations{"workers": 4})
	assert.Equal(t, int64(4), r["workers"])
}
