package position

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// SerialSource reads position fixes from a GPS receiver on a serial port.
type SerialSource struct {
	port     string
	baudRate int
	logger   zerolog.Logger
}

// NewSerialSource creates a SerialSource for the given port and baud rate.
func NewSerialSource(port string, baudRate int, logger zerolog.Logger) *SerialSource {
	return &SerialSource{
		port:     port,
		baudRate: baudRate,
		logger:   logger,
	}
}

// RequestPermission probes the serial device. An inaccessible device node is
// the serial equivalent of a denied grant.
func (s *SerialSource) RequestPermission(ctx context.Context) error {
	c := &serial.Config{Name: s.port, Baud: s.baudRate, ReadTimeout: time.Second}
	p, err := serial.OpenPort(c)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return p.Close()
}

// Current reads sentences until a valid GGA fix is found. Cancelling the
// context closes the port, so a silent device cannot hold the caller open.
func (s *SerialSource) Current(ctx context.Context) (Sample, error) {
	c := &serial.Config{Name: s.port, Baud: s.baudRate, ReadTimeout: time.Second}
	p, err := serial.OpenPort(c)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	defer p.Close()

	readDone := make(chan struct{})
	defer close(readDone)
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-readDone:
		}
	}()

	scanner := bufio.NewScanner(p)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		sample, ok := s.parseSentence(scanner.Text())
		if ok {
			return sample, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if err := scanner.Err(); err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Sample{}, ErrUnavailable
}

// Watch keeps the port open and emits gated fixes until stopped.
func (s *SerialSource) Watch(ctx context.Context, cfg WatchConfig) (Watcher, error) {
	c := &serial.Config{Name: s.port, Baud: s.baudRate}
	p, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	w := newChannelWatcher()

	// Stopping the watcher or cancelling the context closes the port, which
	// unblocks a read stuck on a silent device.
	go func() {
		select {
		case <-ctx.Done():
		case <-w.done:
		}
		p.Close()
	}()

	go func() {
		defer w.close()

		g := newGate(cfg)
		scanner := bufio.NewScanner(p)
		for scanner.Scan() {
			if ctx.Err() != nil || w.stopped() {
				return
			}
			sample, ok := s.parseSentence(scanner.Text())
			if !ok || !g.admit(sample) {
				continue
			}
			w.emit(ctx, sample)
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil && !w.stopped() {
			s.logger.Error().Err(err).Str("port", s.port).Msg("Serial GPS read failed")
		}
	}()

	return w, nil
}

// parseSentence extracts a fix from a GGA sentence. Other sentence types are
// skipped.
func (s *SerialSource) parseSentence(line string) (Sample, bool) {
	if !strings.HasPrefix(line, "$GPGGA") && !strings.HasPrefix(line, "$GNGGA") {
		return Sample{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Skipping unparsable NMEA sentence")
		return Sample{}, false
	}
	gga, ok := sentence.(nmea.GGA)
	if !ok || gga.FixQuality == nmea.Invalid {
		return Sample{}, false
	}
	return Sample{
		Latitude:   gga.Latitude,
		Longitude:  gga.Longitude,
		Accuracy:   float64(gga.HDOP),
		CapturedAt: time.Now(),
	}, true
}

// channelWatcher is the Watcher shared by the continuous sources.
type channelWatcher struct {
	updates chan Sample
	done    chan struct{}
	once    sync.Once
}

func newChannelWatcher() *channelWatcher {
	return &channelWatcher{
		updates: make(chan Sample, 16),
		done:    make(chan struct{}),
	}
}

func (w *channelWatcher) Updates() <-chan Sample {
	return w.updates
}

func (w *channelWatcher) Stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *channelWatcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *channelWatcher) emit(ctx context.Context, s Sample) {
	select {
	case w.updates <- s:
	case <-w.done:
	case <-ctx.Done():
	}
}

func (w *channelWatcher) close() {
	w.Stop()
	close(w.updates)
}
