package observability

import "github.com/rs/zerolog/log"

// AuditSink records one query's audit trail:
// query text (truncated), route taken, refusal flag, and per-stage timings.
// Implementations may persist to Postgres, publish to Kafka, or discard;
// the Dispatcher never blocks on, nor fails a query because of, this call.
type AuditSink interface {
	LogQuery(queryText, route string, refused bool, timings map[string]int64)
}

// DiscardAuditSink drops every audit record. The zero value is ready to use.
type DiscardAuditSink struct{}

func (DiscardAuditSink) LogQuery(string, string, bool, map[string]int64) {}

// ZerologAuditSink logs each completed query at Info via the package logger,
// truncating query text to MaxQueryChars, following the usual query-log
// convention of an always-on request audit trail distinct from per-stage
// Debug/Warn logging.
type ZerologAuditSink struct {
	MaxQueryChars int
}

func (s ZerologAuditSink) LogQuery(queryText, route string, refused bool, timings map[string]int64) {
	max := s.MaxQueryChars
	if max <= 0 {
		max = 200
	}
	q := queryText
	if len(q) > max {
		q = q[:max] + "…"
	}
	ev := log.Info().Str("query", q).Str("route", route).Bool("refused", refused)
	for stage, ms := range timings {
		ev = ev.Int64("stage_"+stage+"_ms", ms)
	}
	ev.Msg("query completed")
}
