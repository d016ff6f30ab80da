package zap

import (
	"github.com/unkn0wn-root/fusecache"
	"go.uber.org/zap"
)

// ZapLogger forwards cache log lines to a zap logger. The field kinds the
// cache emits (identities, unit counts, device and kind names) map to typed
// zap fields; anything else goes through zap.Any.
type ZapLogger struct{ L *zap.Logger }

func (z ZapLogger) Debug(msg string, f fusecache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f fusecache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f fusecache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f fusecache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f fusecache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		switch x := v.(type) {
		case uint64:
			out = append(out, zap.Uint64(k, x))
		case int:
			out = append(out, zap.Int(k, x))
		case string:
			out = append(out, zap.String(k, x))
		case error:
			out = append(out, zap.NamedError(k, x))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
