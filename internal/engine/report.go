package engine

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ConnectInfoRecord is emitted once, on the report worker's first wake, with
// the local/peer addressing iperf traditionally prints before any PERIOD
// line.
type ConnectInfoRecord struct {
	InstanceID int
	Local      net.Addr
	Peer       net.Addr
}

// PeriodRecord is emitted once per consumed snapshot.
type PeriodRecord struct {
	InstanceID   int
	StartSecs    int
	EndSecs      int
	Bytes        uint64
	OutputFormat OutputFormat
}

// SummaryRecord is emitted once, when the report worker exits, if any
// reporting period ever elapsed (end_s != 0).
type SummaryRecord struct {
	InstanceID   int
	DurationSecs int
	TotalBytes   uint64
	OutputFormat OutputFormat
}

// ReportSink renders report records. An instance may override it per-call;
// an Engine with none configured falls back to NewDefaultSink(os.Stdout).
type ReportSink interface {
	ConnectInfo(ConnectInfoRecord)
	Period(PeriodRecord)
	Summary(SummaryRecord)
}

// defaultSink formats records in iperf's classic column layout, printing the
// header once per sink value. The package's stdout sink is shared by every
// Engine, so for it the header appears once per process.
type defaultSink struct {
	w        io.Writer
	p        *message.Printer
	headerMu sync.Mutex
	header   bool
}

// NewDefaultSink builds the stock report formatter, writing to w.
func NewDefaultSink(w io.Writer) ReportSink {
	return &defaultSink{w: w, p: message.NewPrinter(language.English)}
}

var processDefaultSink = NewDefaultSink(os.Stdout)

func (s *defaultSink) printHeaderOnce() {
	s.headerMu.Lock()
	defer s.headerMu.Unlock()
	if s.header {
		return
	}
	s.header = true
	fmt.Fprintf(s.w, "[ ID] Interval\t\tTransfer\tBandwidth\n")
}

func (s *defaultSink) ConnectInfo(r ConnectInfoRecord) {
	s.printHeaderOnce()
	fmt.Fprintf(s.w, "[%3d] local %s connected to %s\n", r.InstanceID, addrString(r.Local), addrString(r.Peer))
}

func (s *defaultSink) Period(r PeriodRecord) {
	bw := bandwidth(r.Bytes, r.EndSecs-r.StartSecs)
	s.p.Fprintf(s.w, "[%3d] %4.1f-%4.1f sec %s  %s\n",
		r.InstanceID, float64(r.StartSecs), float64(r.EndSecs),
		formatTransfer(r.Bytes, r.OutputFormat), formatBandwidth(bw, r.OutputFormat))
}

func (s *defaultSink) Summary(r SummaryRecord) {
	bw := bandwidth(r.TotalBytes, r.DurationSecs)
	s.p.Fprintf(s.w, "[%3d]  0.0-%4.1f sec  %s  %s\n",
		r.InstanceID, float64(r.DurationSecs),
		formatTransfer(r.TotalBytes, r.OutputFormat), formatBandwidth(bw, r.OutputFormat))
}

func addrString(a net.Addr) string {
	if a == nil {
		return "0.0.0.0:0"
	}
	return a.String()
}

// bandwidth returns bytes/sec; seconds == 0 guards against a division by
// zero on a degenerate (never-started) summary.
func bandwidth(totalBytes uint64, seconds int) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(totalBytes) / float64(seconds)
}

// formatTransfer renders a byte count under the requested unit's magnitude
// (always a Bytes-family unit regardless of OutputFormat's bit/byte choice,
// matching iperf's "Transfer" column convention).
func formatTransfer(bytes uint64, format OutputFormat) string {
	switch unitScale(format) {
	case scaleMega:
		return fmt.Sprintf("%6.2f MBytes", float64(bytes)/(1024*1024))
	case scaleKilo:
		return fmt.Sprintf("%6.2f KBytes", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%6.0f Bytes", float64(bytes))
	}
}

// formatBandwidth renders bytesPerSec under the OutputFormat's unit,
// applying the 'K'/'M' prefix and Bytes/bits choice.
func formatBandwidth(bytesPerSec float64, format OutputFormat) string {
	switch format {
	case FormatBytesPerSec:
		return fmt.Sprintf("%8.2f Bytes/sec", bytesPerSec)
	case FormatKBytesPerSec:
		return fmt.Sprintf("%8.2f KBytes/sec", bytesPerSec/1024)
	case FormatMBytesPerSec:
		return fmt.Sprintf("%8.2f MBytes/sec", bytesPerSec/(1024*1024))
	case FormatKbitsPerSec:
		return fmt.Sprintf("%8.2f Kbits/sec", bytesPerSec*8/1000)
	case FormatMbitsPerSec:
		return fmt.Sprintf("%8.2f Mbits/sec", bytesPerSec*8/1_000_000)
	default:
		return fmt.Sprintf("%8.2f bits/sec", bytesPerSec*8)
	}
}

// runReport is the report worker: blocks on tickSignal, builds CONNECT_INFO
// on its first wake, consumes the snapshot the tick callback produced, and
// emits PERIOD/SUMMARY records. It returns nil always; the return value
// exists so lifecycle.go can run it under an errgroup.Group alongside the
// traffic worker.
func (inst *instance) runReport() error {
	first := true
	for {
		<-inst.tickSignal

		if first {
			first = false
			inst.sink.ConnectInfo(ConnectInfoRecord{
				InstanceID: inst.id,
				Local:      inst.conn.LocalAddr(),
				Peer:       inst.targetAddr,
			})
		}

		bytes, seconds := inst.snap.consume()
		if seconds != 0 {
			rep := inst.applyPeriod(bytes, seconds)
			inst.emitState(StateRunning)
			inst.sink.Period(PeriodRecord{
				InstanceID:   inst.id,
				StartSecs:    rep.PeriodStartSecs,
				EndSecs:      rep.EndSecs,
				Bytes:        rep.PeriodBytes,
				OutputFormat: rep.OutputFormat,
			})
		}

		if !inst.isRunning.Load() {
			break
		}
	}

	rep := inst.snapshotReport()
	if rep.EndSecs != 0 {
		inst.sink.Summary(SummaryRecord{
			InstanceID:   inst.id,
			DurationSecs: rep.EndSecs,
			TotalBytes:   rep.TotalBytes,
			OutputFormat: rep.OutputFormat,
		})
	}
	close(inst.reportDone)
	return nil
}

// applyPeriod folds one consumed snapshot into the cumulative traffic
// report and returns a copy, all under reportMu. Only the report worker
// ever writes inst.report.
func (inst *instance) applyPeriod(bytes, seconds uint32) TrafficReport {
	inst.reportMu.Lock()
	defer inst.reportMu.Unlock()
	inst.report.PeriodBytes = uint64(bytes)
	inst.report.TotalBytes += uint64(bytes)
	inst.report.PeriodStartSecs = inst.report.EndSecs
	inst.report.EndSecs += int(seconds)
	return inst.report
}

func (inst *instance) snapshotReport() TrafficReport {
	inst.reportMu.Lock()
	defer inst.reportMu.Unlock()
	return inst.report
}

type scale int

const (
	scaleNone scale = iota
	scaleKilo
	scaleMega
)

func unitScale(format OutputFormat) scale {
	switch format {
	case FormatKBytesPerSec, FormatKbitsPerSec:
		return scaleKilo
	case FormatMBytesPerSec, FormatMbitsPerSec:
		return scaleMega
	default:
		return scaleNone
	}
}
