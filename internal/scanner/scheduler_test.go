package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRunAfter(t *testing.T) {
	s := &Scheduler{Hour: 1, Minute: 30}

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "before today's slot",
			now:  time.Date(2026, 8, 28, 0, 15, 0, 0, time.UTC),
			want: time.Date(2026, 8, 28, 1, 30, 0, 0, time.UTC),
		},
		{
			name: "after today's slot rolls to tomorrow",
			now:  time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
			want: time.Date(2026, 8, 29, 1, 30, 0, 0, time.UTC),
		},
		{
			name: "exactly at the slot rolls to tomorrow",
			now:  time.Date(2026, 8, 28, 1, 30, 0, 0, time.UTC),
			want: time.Date(2026, 8, 29, 1, 30, 0, 0, time.UTC),
		},
		{
			name: "month boundary",
			now:  time.Date(2026, 8, 31, 23, 59, 0, 0, time.UTC),
			want: time.Date(2026, 9, 1, 1, 30, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.nextRunAfter(tc.now))
		})
	}
}
