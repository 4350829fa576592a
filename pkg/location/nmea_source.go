package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

const (
	knotsToMetersPerSecond = 0.514444
	// userEquivalentRangeError converts HDOP into an approximate horizontal accuracy in meters.
	userEquivalentRangeError = 5.0
)

// PortOpener opens the serial device a GPS receiver is attached to.
type PortOpener func(cfg *serial.Config) (io.ReadCloser, error)

func openSerialPort(cfg *serial.Config) (io.ReadCloser, error) {
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// NMEASource streams fixes from a GPS receiver speaking NMEA 0183 over a serial port.
type NMEASource struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
	open     PortOpener
	logger   zerolog.Logger
}

// NewNMEASource creates a source reading from the given serial port.
func NewNMEASource(port string, baudRate int, logger zerolog.Logger) *NMEASource {
	return &NMEASource{
		port:     port,
		baudRate: baudRate,
		open:     openSerialPort,
		logger:   logger,
	}
}

// WithPortOpener replaces the serial port opener, mainly for tests and replay files.
func (d *NMEASource) WithPortOpener(open PortOpener) *NMEASource {
	d.open = open
	return d
}

// CurrentPosition opens the port and returns the first valid fix.
func (d *NMEASource) CurrentPosition(ctx context.Context, opts WatchOptions) (Position, error) {
	type result struct {
		pos Position
		err error
	}
	results := make(chan result, 1)
	report := func(r result) {
		select {
		case results <- r:
		default:
		}
	}

	sub, err := d.Watch(ctx, opts,
		func(p Position) { report(result{pos: p}) },
		func(err error) { report(result{err: err}) },
	)
	if err != nil {
		return Position{}, err
	}
	defer sub.Stop()

	select {
	case r := <-results:
		return r.pos, r.err
	case <-ctx.Done():
		return Position{}, classify(ctx, ctx.Err())
	}
}

// Watch opens the serial port and emits a Position for every valid GGA fix, enriched with
// speed and course from the matching RMC sentence.
func (d *NMEASource) Watch(ctx context.Context, opts WatchOptions, onSample func(Position), onError func(error)) (Subscription, error) {
	if onSample == nil {
		return nil, errors.New("location: watch requires a sample callback")
	}
	if d.port == "" {
		return nil, newPositionError(CodeDeviceUnavailable, errors.New("no GPS serial port configured"))
	}

	rc, err := d.open(&serial.Config{Name: d.port, Baud: d.baudRate})
	if err != nil {
		perr := classify(ctx, err)
		if code, _ := CodeOf(perr); code == CodePositionUnavailable {
			perr = newPositionError(CodeDeviceUnavailable, err)
		}
		d.logger.Error().Err(err).Str("port", d.port).Msg("Failed to open GPS serial port")
		return nil, perr
	}

	var closeOnce sync.Once
	closePort := func() {
		closeOnce.Do(func() {
			if err := rc.Close(); err != nil {
				d.logger.Debug().Err(err).Msg("Failed to close GPS serial port")
			}
		})
	}

	watchCtx, cancel := context.WithCancel(ctx)
	// closing the port unblocks the pending read
	sub := newSubscription(cancel, closePort)

	go func() {
		defer close(sub.done)
		defer closePort()
		d.stream(watchCtx, rc, opts, onSample, onError)
	}()

	d.logger.Info().Str("port", d.port).Int("baud_rate", d.baudRate).Msg("NMEA location source started")
	return sub, nil
}

func (d *NMEASource) stream(ctx context.Context, r io.Reader, opts WatchOptions, onSample func(Position), onError func(error)) {
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var watchdog <-chan time.Time
	var timer *time.Timer
	if opts.Timeout > 0 {
		timer = time.NewTimer(opts.Timeout)
		defer timer.Stop()
		watchdog = timer.C
	}

	report := func(err error) {
		d.logger.Warn().Err(err).Msg("GPS sampling failure")
		if onError != nil {
			onError(err)
		}
	}

	asm := newFixAssembler(time.Now)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Str("port", d.port).Msg("NMEA location source stopping")
			return

		case err := <-readErr:
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			report(newPositionError(CodePositionUnavailable, fmt.Errorf("nmea stream closed: %w", err)))
			return

		case line := <-lines:
			pos, ok, err := asm.feed(line)
			if err != nil {
				d.logger.Debug().Err(err).Str("sentence", line).Msg("Skipping malformed NMEA sentence")
				continue
			}
			if !ok {
				continue
			}
			if timer != nil {
				timer.Reset(opts.Timeout)
			}
			onSample(pos)

		case <-watchdog:
			report(newPositionError(CodeTimeout, fmt.Errorf("no GPS fix within %s", opts.Timeout)))
			timer.Reset(opts.Timeout)
		}
	}
}

// fixAssembler merges GGA and RMC sentences of the same epoch into positions.
type fixAssembler struct {
	rmc *nmea.RMC
	now func() time.Time
}

func newFixAssembler(now func() time.Time) *fixAssembler {
	return &fixAssembler{now: now}
}

// feed parses one sentence and reports a position when a valid GGA fix completes an epoch.
func (a *fixAssembler) feed(line string) (Position, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Position{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Position{}, false, err
	}

	switch s := sentence.(type) {
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			a.rmc = nil
			return Position{}, false, nil
		}
		a.rmc = &s
		return Position{}, false, nil

	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return Position{}, false, nil
		}

		pos := Position{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Accuracy:  s.HDOP * userEquivalentRangeError,
			Altitude:  Float64(s.Altitude),
			Timestamp: a.now().UTC(),
		}

		if a.rmc != nil && a.rmc.Time == s.Time {
			pos.Speed = Float64(a.rmc.Speed * knotsToMetersPerSecond)
			pos.Heading = Float64(a.rmc.Course)
			if ts, ok := fixTime(a.rmc.Date, a.rmc.Time); ok {
				pos.Timestamp = ts
			}
		}
		return pos, true, nil
	}

	return Position{}, false, nil
}

func fixTime(d nmea.Date, t nmea.Time) (time.Time, bool) {
	if !d.Valid || !t.Valid {
		return time.Time{}, false
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC), true
}
