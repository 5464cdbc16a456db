package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ShortStringer is implemented by identifiers with an abbreviated form.
type ShortStringer interface {
	ShortString() string
}

type shortStringer struct {
	v ShortStringer
}

func (s shortStringer) String() string {
	return s.v.ShortString()
}

// ZShortStringer logs the abbreviated form of an identifier.
func ZShortStringer(name string, val ShortStringer) zap.Field {
	return zap.Stringer(name, shortStringer{val})
}

// ZShortStringers logs the abbreviated forms of a list of identifiers.
func ZShortStringers[T ShortStringer](name string, vals []T) zap.Field {
	return zap.Array(name, zapcore.ArrayMarshalerFunc(func(enc zapcore.ArrayEncoder) error {
		for _, v := range vals {
			enc.AppendString(v.ShortString())
		}
		return nil
	}))
}
