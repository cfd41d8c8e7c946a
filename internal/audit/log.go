// Package audit persists the retraction trail as JSON lines. Records
// go through a buffered channel with a synchronous fallback when the
// buffer is full, so a slow disk never blocks a retraction and a fast
// shutdown never loses one.
package audit

import (
	"strings"
	"sync"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

// maxReasonLength caps free-text reasons before they hit disk.
const maxReasonLength = 500

// maxGraphRemovals caps the neo4j_removed list per record.
const maxGraphRemovals = 20

// RetractionRecord is one audit line.
type RetractionRecord struct {
	Timestamp      string   `json:"timestamp"`
	Query          string   `json:"query"`
	Reason         string   `json:"reason,omitempty"`
	UserID         string   `json:"user_id"`
	Cascade        bool     `json:"cascade"`
	RetractedIDs   []string `json:"retracted_ids"`
	RetractedTexts []string `json:"retracted_texts"`
	Neo4jRemoved   []string `json:"neo4j_removed,omitempty"`
}

// Log writes retraction records to a rotating JSONL file.
type Log struct {
	writer *lumberjack.Logger
	logger *zap.Logger

	ch     chan RetractionRecord
	wg     sync.WaitGroup
	closed chan struct{}

	mu sync.Mutex // serializes writer access between async loop and fallback
}

// NewLog opens (or creates) the audit file. Rotation keeps five 10 MB
// files.
func NewLog(path string, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 5,
			Compress:   true,
		},
		logger: logger.Named("audit"),
		ch:     make(chan RetractionRecord, 256),
		closed: make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Record queues one retraction for persistence. When the buffer is
// full the record is written synchronously instead of being dropped.
func (l *Log) Record(rec RetractionRecord) {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	rec.Reason = sanitizeReason(rec.Reason)
	if len(rec.Neo4jRemoved) > maxGraphRemovals {
		rec.Neo4jRemoved = rec.Neo4jRemoved[:maxGraphRemovals]
	}

	select {
	case l.ch <- rec:
	default:
		l.logger.Warn("Audit buffer full, writing synchronously")
		l.persist(rec)
	}
}

// RecordRetraction is the flat-argument form the memory engine calls.
func (l *Log) RecordRetraction(query, reason, userID string, cascade bool, ids, texts, graphRemoved []string) {
	l.Record(RetractionRecord{
		Query:          query,
		Reason:         reason,
		UserID:         userID,
		Cascade:        cascade,
		RetractedIDs:   ids,
		RetractedTexts: texts,
		Neo4jRemoved:   graphRemoved,
	})
}

func (l *Log) run() {
	defer l.wg.Done()
	for {
		select {
		case rec := <-l.ch:
			l.persist(rec)
		case <-l.closed:
			// Drain what is queued, then stop.
			for {
				select {
				case rec := <-l.ch:
					l.persist(rec)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) persist(rec RetractionRecord) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	line, err := jsonx.Marshal(rec)
	if err != nil {
		l.logger.Error("Failed to encode audit record", zap.Error(err))
		return
	}
	buf.Write(line)
	buf.WriteByte('\n')

	l.mu.Lock()
	_, err = l.writer.Write(buf.Bytes())
	l.mu.Unlock()
	if err != nil {
		l.logger.Error("Failed to write audit record", zap.Error(err))
	}
}

// Close drains the queue and closes the file.
func (l *Log) Close() error {
	close(l.closed)
	l.wg.Wait()
	return l.writer.Close()
}

// sanitizeReason strips newlines and caps length so one record stays
// one line.
func sanitizeReason(reason string) string {
	reason = strings.ReplaceAll(reason, "\n", " ")
	reason = strings.ReplaceAll(reason, "\r", " ")
	reason = strings.TrimSpace(reason)
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}
	return reason
}
