package gossip

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/spacemeshos/go-ibltsync/timebucket"
	"github.com/spacemeshos/go-ibltsync/types"
)

type validatorTester struct {
	*Node
	db        *MockDatabase
	validator *MockValidator
}

func newValidatorTester(t *testing.T) *validatorTester {
	ctrl := gomock.NewController(t)
	db := NewMockDatabase(ctrl)
	validator := NewMockValidator(ctrl)
	cfg := DefaultConfig()
	cfg.MaxValueSize = 8
	n := New(db, NewMockNetwork(ctrl), validator, timebucket.New(db, timebucket.DefaultConfig()),
		WithConfig(cfg),
		WithClock(clockwork.NewFakeClockAt(epoch)),
	)
	return &validatorTester{Node: n, db: db, validator: validator}
}

func testRecord(value string, ts time.Time) types.Record {
	return types.Record{Key: types.Key(bytes.Repeat([]byte{value[0]}, 32)), Value: []byte(value), Timestamp: ts}
}

func TestAccept(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		rec     types.Record
		stored  bool
		valid   bool
		checked bool
		putErr  error
		expect  error
		future  bool
	}{
		{
			desc:    "accepted",
			rec:     testRecord("a", epoch),
			valid:   true,
			checked: true,
		},
		{
			desc:   "duplicate",
			rec:    testRecord("a", epoch),
			stored: true,
			expect: errDuplicate,
		},
		{
			desc:    "invalid",
			rec:     testRecord("a", epoch),
			checked: true,
			expect:  ErrValidationRejected,
		},
		{
			desc:   "too large",
			rec:    testRecord("abcdefghi", epoch),
			expect: ErrValidationRejected,
		},
		{
			desc:   "from the future",
			rec:    testRecord("a", epoch.Add(time.Hour)),
			expect: ErrValidationRejected,
			future: true,
		},
		{
			desc:   "short key",
			rec:    types.Record{Key: types.Key("short"), Value: []byte("a"), Timestamp: epoch},
			expect: ErrValidationRejected,
		},
		{
			desc:    "within clock skew",
			rec:     testRecord("a", epoch.Add(time.Minute)),
			valid:   true,
			checked: true,
		},
		{
			desc:    "put failure",
			rec:     testRecord("a", epoch),
			valid:   true,
			checked: true,
			putErr:  errors.New("disk full"),
			expect:  errors.New("disk full"),
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			tt := newValidatorTester(t)
			if tc.stored {
				tt.db.EXPECT().Get(gomock.Any(), tc.rec.Key).Return(tc.rec, nil)
			} else {
				tt.db.EXPECT().Get(gomock.Any(), tc.rec.Key).Return(types.Record{}, types.ErrNotFound)
			}
			if tc.checked {
				tt.validator.EXPECT().Validate(tc.rec.Key, tc.rec.Value).Return(tc.valid)
			}
			if tc.valid {
				tt.db.EXPECT().Put(gomock.Any(), tc.rec).Return(tc.putErr)
			}
			err := tt.accept(context.Background(), tc.rec)
			switch {
			case tc.expect == nil:
				require.NoError(t, err)
			case tc.putErr != nil:
				require.ErrorIs(t, err, tc.putErr)
			default:
				require.ErrorIs(t, err, tc.expect)
			}
			require.Equal(t, tc.future, errors.Is(err, errFutureTimestamp))
			if tc.expect == nil {
				require.Equal(t, epoch, tt.tracker.modifiedAt(tt.index.BucketFor(tc.rec.Timestamp)))
			}
		})
	}
}
