package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/gorilla/websocket"
)

const DeepgramLiveURL = "wss://api.deepgram.com/v1/listen"

type DeepgramConfig struct {
	APIKey         string
	URL            string
	Model          string
	Language       string
	SmartFormat    bool
	InterimResults bool
	Punctuate      bool
	Diarize        bool
	UtteranceEndMs int
	Encoding       string // пусто: контейнер определяет сам Deepgram (webm/opus из браузера)
	SampleRate     int
	KeepAlive      time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	// FlushTimeout: сколько после CloseStream ждать, пока Deepgram дошлёт финальные результаты и закроет сокет.
	FlushTimeout   time.Duration
}

// DefaultDeepgramConfig: параметры, с которыми работает фронт консультаций.
func DefaultDeepgramConfig(apiKey string) DeepgramConfig {
	return DeepgramConfig{
		APIKey:         apiKey,
		URL:            DeepgramLiveURL,
		Model:          "nova-2",
		Language:       "en-US",
		SmartFormat:    true,
		InterimResults: true,
		Punctuate:      true,
		Diarize:        true,
		UtteranceEndMs: 1000,
		KeepAlive:      8 * time.Second,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   5 * time.Second,
		FlushTimeout:   2 * time.Second,
	}
}

type Deepgram struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
	log    *slog.Logger
	now    func() time.Time
}

func NewDeepgram(cfg DeepgramConfig, log *slog.Logger) (*Deepgram, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	def := DefaultDeepgramConfig(cfg.APIKey)
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = def.FlushTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Deepgram{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		log:    log.With("component", "deepgram"),
		now:    time.Now,
	}, nil
}

func (d *Deepgram) listenURL() (string, error) {
	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("deepgram: bad url: %w", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("language", d.cfg.Language)
	q.Set("smart_format", strconv.FormatBool(d.cfg.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(d.cfg.InterimResults))
	q.Set("punctuate", strconv.FormatBool(d.cfg.Punctuate))
	q.Set("diarize", strconv.FormatBool(d.cfg.Diarize))
	if d.cfg.UtteranceEndMs > 0 {
		q.Set("utterance_end_ms", strconv.Itoa(d.cfg.UtteranceEndMs))
	}
	if d.cfg.Encoding != "" {
		q.Set("encoding", d.cfg.Encoding)
	}
	if d.cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (d *Deepgram) Open(ctx context.Context, roomID string) (Stream, error) {
	target, err := d.listenURL()
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, target, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial: %v (status %d)", domain.ErrTranscriptionProvider, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", domain.ErrTranscriptionProvider, err)
	}

	s := &deepgramStream{
		conn:         conn,
		captions:     make(chan domain.Caption, 32),
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
		writeTimeout: d.cfg.WriteTimeout,
		flushTimeout: d.cfg.FlushTimeout,
		now:          d.now,
		log:          d.log.With("room_id", roomID),
	}
	go s.readLoop()
	go s.keepAlive(d.cfg.KeepAlive)

	return s, nil
}

// --- stream ---

type deepgramStream struct {
	conn         *websocket.Conn
	captions     chan domain.Caption
	done         chan struct{} // закрыт: Close вызван или чтение оборвалось
	finished     chan struct{} // закрыт: readLoop вышел
	closeOnce    sync.Once
	writeMu      sync.Mutex
	writeTimeout time.Duration
	flushTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger

	errMu sync.Mutex
	err   error
}

type dgMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Speaker int `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	// в сообщениях type=Error
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (s *deepgramStream) Captions() <-chan domain.Caption { return s.captions }

func (s *deepgramStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *deepgramStream) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *deepgramStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *deepgramStream) write(mt int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(mt, data)
}

func (s *deepgramStream) Send(chunk []byte) error {
	if s.closed() {
		return domain.ErrSessionStopped
	}
	return s.write(websocket.BinaryMessage, chunk)
}

// Close просит Deepgram дослать распознанное (CloseStream) и ждёт, пока тот закроет сокет,
// но не дольше flushTimeout. Всё, что пришло за это время, ещё попадает в Captions.
func (s *deepgramStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if werr := s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); werr == nil {
			t := time.NewTimer(s.flushTimeout)
			select {
			case <-s.finished:
			case <-t.C:
				s.log.Debug("deepgram: flush timeout, closing socket")
			}
			t.Stop()
		}
		err = s.conn.Close()
	})
	return err
}

func (s *deepgramStream) readLoop() {
	defer func() {
		close(s.finished)
		close(s.captions)
		// поток оборвался без нашего Close: освобождаем сокет
		s.closeOnce.Do(func() {
			close(s.done)
			_ = s.conn.Close()
		})
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.setErr(err)
			}
			return
		}

		var msg dgMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("deepgram: skip non-json frame", "err", err)
			continue
		}

		switch msg.Type {
		case "Results":
			cp, ok := s.toCaption(msg)
			if !ok {
				continue
			}
			if !s.deliver(cp) {
				s.log.Warn("deepgram: caption dropped after close", "is_final", cp.IsFinal)
			}
		case "Error":
			desc := msg.Description
			if desc == "" {
				desc = msg.Message
			}
			s.setErr(errors.New("deepgram: " + desc))
			return
		default:
			// Metadata, UtteranceEnd, SpeechStarted
		}
	}
}

// deliver: до Close ждёт читателя; после Close кладёт в буфер без ожидания.
func (s *deepgramStream) deliver(cp domain.Caption) bool {
	select {
	case s.captions <- cp:
		return true
	case <-s.done:
	}
	select {
	case s.captions <- cp:
		return true
	default:
		return false
	}
}

func (s *deepgramStream) toCaption(msg dgMessage) (domain.Caption, bool) {
	if len(msg.Channel.Alternatives) == 0 {
		return domain.Caption{}, false
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return domain.Caption{}, false
	}
	speaker := 0
	if len(alt.Words) > 0 {
		speaker = alt.Words[0].Speaker
	}

	return domain.Caption{
		Text:         alt.Transcript,
		IsFinal:      msg.IsFinal,
		Speaker:      speaker,
		TimestampUTC: s.now().UTC(),
		Confidence:   alt.Confidence,
	}, true
}

func (s *deepgramStream) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.log.Debug("deepgram: keepalive failed", "err", err)
				return
			}
		}
	}
}
