package sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ghalamif/SigFlow/internal/ports"
)

// TimescaleSink writes annotations to a PostgreSQL/TimescaleDB table with
// a unique key on (capture_id, decoder_id, start_sample, end_sample, class).
type TimescaleSink struct {
	db        *sql.DB
	tableName string
}

func NewTimescaleSink(db *sql.DB, table string) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// WriteBatch inserts the batch in one statement. Re-exported annotations
// are skipped by the unique key.
func (t *TimescaleSink) WriteBatch(batch []ports.ExportedAnnotation) error {
	if len(batch) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (capture_id, decoder_id, start_sample, end_sample, class, class_name, texts) VALUES ")

	args := make([]any, 0, len(batch)*7)
	for i, e := range batch {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7))
		texts, err := json.Marshal(e.Annotation.Texts)
		if err != nil {
			return fmt.Errorf("marshal texts: %w", err)
		}
		args = append(args,
			e.CaptureID,
			e.Annotation.DecoderID,
			int64(e.Annotation.StartSample),
			int64(e.Annotation.EndSample),
			e.Annotation.Class,
			e.Annotation.ClassName,
			texts,
		)
	}

	b.WriteString(" ON CONFLICT (capture_id, decoder_id, start_sample, end_sample, class) DO NOTHING")

	if _, err := t.db.Exec(b.String(), args...); err != nil {
		return fmt.Errorf("insert annotations: %w", err)
	}
	return nil
}

var _ ports.AnnotationSink = (*TimescaleSink)(nil)
