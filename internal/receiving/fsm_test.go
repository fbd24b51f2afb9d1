package receiving

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
)

func TestTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
		want  Status
		ok    bool
	}{
		{StatusDraft, EventMarkReceived, StatusReceived, true},
		{StatusReceived, EventMarkReceived, StatusReceived, true},
		{StatusDraft, EventCancel, StatusCancelled, true},
		{StatusReceived, EventCancel, StatusCancelled, true},
		{StatusCancelled, EventMarkReceived, "", false},
		{StatusCancelled, EventCancel, "", false},
	}

	for _, tc := range cases {
		got, err := Next(tc.from, tc.event)
		if tc.ok {
			require.NoError(t, err, "%s on %s", tc.event, tc.from)
			require.Equal(t, tc.want, got)
			continue
		}
		require.ErrorIs(t, err, shared.ErrInvalidTransition, "%s on %s", tc.event, tc.from)
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	_, err := Next(Status("ARCHIVED"), EventCancel)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}
