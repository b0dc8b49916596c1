package tvsim

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Decision controls how a simulated display answers a pairing prompt.
type Decision uint8

const (
	// Accept answers the prompt positively once AcceptAfter polls have
	// been seen.
	Accept Decision = iota

	// Reject declines the prompt on the first poll.
	Reject

	// Ignore leaves the prompt on screen forever.
	Ignore
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// prompt tracks one on-screen pairing prompt.
type prompt struct {
	polls int
}

// promptBook is the shared prompt bookkeeping of the autonomous displays.
type promptBook struct {
	mu      sync.Mutex
	next    int
	prompts map[string]*prompt
}

func (b *promptBook) open() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.prompts == nil {
		b.prompts = make(map[string]*prompt)
	}
	b.next++
	id := fmt.Sprintf("prompt-%d", b.next)
	b.prompts[id] = &prompt{}
	return id
}

// poll counts a poll and reports how many have been seen, or -1 if the
// prompt does not exist.
func (b *promptBook) poll(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.prompts[id]
	if !ok {
		return -1
	}
	p.polls++
	return p.polls
}

// Opened returns how many prompts were shown.
func (b *promptBook) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Samsung simulates a Tizen display.
type Samsung struct {
	Model       string
	Name        string
	Token       string
	Decision    Decision
	AcceptAfter int

	promptBook
	once sync.Once
	mux  *http.ServeMux
}

func (s *Samsung) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		s.mux = http.NewServeMux()
		s.mux.HandleFunc("GET /api/v2/{$}", s.info)
		s.mux.HandleFunc("POST /api/v2/channels/samsung.remote.control/pair", s.pair)
		s.mux.HandleFunc("GET /api/v2/channels/samsung.remote.control/pair/{id}", s.pairStatus)
	})
	s.mux.ServeHTTP(w, r)
}

func (s *Samsung) info(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      "uuid:0d1cef00-00dc-1000-9cb9-fc039f0d0a2e",
		"name":    s.Name,
		"type":    "Samsung SmartTV",
		"version": "2.0.25",
		"device": map[string]any{
			"type":             "Samsung SmartTV",
			"modelName":        s.Model,
			"name":             s.Name,
			"TokenAuthSupport": "true",
			"OS":               "Tizen",
		},
	})
}

func (s *Samsung) pair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"event": "ms.error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": s.open()})
}

func (s *Samsung) pairStatus(w http.ResponseWriter, r *http.Request) {
	n := s.poll(r.PathValue("id"))
	switch {
	case n < 0:
		writeJSON(w, http.StatusNotFound, map[string]string{"event": "ms.error"})
	case s.Decision == Reject:
		writeJSON(w, http.StatusOK, map[string]string{"event": "ms.channel.unauthorized"})
	case s.Decision == Accept && n >= s.AcceptAfter:
		writeJSON(w, http.StatusOK, map[string]any{
			"event": "ms.channel.connect",
			"data":  map[string]string{"token": s.Token},
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"event": "ms.channel.pending"})
	}
}

// LG simulates a webOS display.
type LG struct {
	ClientKey   string
	Decision    Decision
	AcceptAfter int

	promptBook
	once sync.Once
	mux  *http.ServeMux
}

func (l *LG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.once.Do(func() {
		l.mux = http.NewServeMux()
		l.mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = io.WriteString(w, "Hello world")
		})
		l.mux.HandleFunc("POST /api/register", l.register)
		l.mux.HandleFunc("GET /api/register/{id}", l.registerStatus)
	})
	l.mux.ServeHTTP(w, r)
}

func (l *LG) register(w http.ResponseWriter, r *http.Request) {
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			PairingType string `json:"pairingType"`
		} `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Type != "register" {
		writeJSON(w, http.StatusOK, map[string]string{"type": "error", "error": "400 bad request"})
		return
	}
	id := l.open()
	writeJSON(w, http.StatusOK, map[string]any{
		"type":    "response",
		"id":      id,
		"payload": map[string]any{"pairingType": "PROMPT", "returnValue": true},
	})
}

func (l *LG) registerStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n := l.poll(id)
	switch {
	case n < 0:
		writeJSON(w, http.StatusNotFound, map[string]string{"type": "error", "error": "404 no such request"})
	case l.Decision == Reject:
		writeJSON(w, http.StatusOK, map[string]string{"type": "error", "id": id, "error": "403 User denied access"})
	case l.Decision == Accept && n >= l.AcceptAfter:
		writeJSON(w, http.StatusOK, map[string]any{
			"type":    "registered",
			"id":      id,
			"payload": map[string]string{"client-key": l.ClientKey},
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"type":    "response",
			"id":      id,
			"payload": map[string]any{"pairingType": "PROMPT", "returnValue": true},
		})
	}
}

// Sony simulates a Bravia display with pre-shared key authentication.
type Sony struct {
	Model string
	PSK   string
}

type sonyRequest struct {
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Version string `json:"version"`
}

func (s *Sony) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/sony/system" {
		http.NotFound(w, r)
		return
	}
	var req sonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"error": []any{3, "Illegal Argument"}, "id": 0})
		return
	}

	switch req.Method {
	case "getInterfaceInformation":
		writeJSON(w, http.StatusOK, map[string]any{
			"result": []any{map[string]string{
				"productCategory":  "tv",
				"productName":      "BRAVIA",
				"modelName":        s.Model,
				"serverName":       "",
				"interfaceVersion": "5.0.1",
			}},
			"id": req.ID,
		})
	case "getSystemInformation":
		if r.Header.Get("X-Auth-PSK") != s.PSK {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": []any{403, "Forbidden"}, "id": req.ID})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"result": []any{map[string]string{
				"product":    "TV",
				"model":      s.Model,
				"serial":     "4012345",
				"generation": "5.0.1",
			}},
			"id": req.ID,
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"error": []any{12, "No Such Method"}, "id": req.ID})
	}
}

// Vizio simulates a SmartCast display with on-screen PIN challenge.
type Vizio struct {
	Model     string
	Name      string
	PIN       string
	AuthToken string

	// PairDelay delays the answer to the PIN submission.
	PairDelay time.Duration

	mu        sync.Mutex
	reqToken  int
	attempts  int
	cancelled int
	once      sync.Once
	mux       *http.ServeMux
}

type vizioStatus struct {
	Result string `json:"RESULT"`
	Detail string `json:"DETAIL"`
}

func (v *Vizio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.once.Do(func() {
		v.mux = http.NewServeMux()
		v.mux.HandleFunc("GET /state/device/deviceinfo", v.deviceInfo)
		v.mux.HandleFunc("PUT /pairing/start", v.start)
		v.mux.HandleFunc("PUT /pairing/pair", v.pair)
		v.mux.HandleFunc("PUT /pairing/cancel", v.cancel)
	})
	v.mux.ServeHTTP(w, r)
}

func (v *Vizio) deviceInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"STATUS": vizioStatus{Result: "SUCCESS", Detail: "Success"},
		"ITEMS": []any{map[string]any{
			"CNAME": "deviceinfo",
			"TYPE":  "T_DEVICE_INFO_V1",
			"VALUE": map[string]string{
				"MODEL_NAME":    v.Model,
				"NAME":          v.Name,
				"SERIAL_NUMBER": "LTMWTDDT1234567",
			},
		}},
	})
}

func (v *Vizio) start(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID   string `json:"DEVICE_ID"`
		DeviceName string `json:"DEVICE_NAME"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"STATUS": vizioStatus{Result: "INVALID_PARAMETER"}})
		return
	}

	v.mu.Lock()
	v.reqToken++
	token := v.reqToken
	v.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"STATUS": vizioStatus{Result: "SUCCESS", Detail: "Success"},
		"ITEM":   map[string]int{"PAIRING_REQ_TOKEN": token, "CHALLENGE_TYPE": 1},
	})
}

func (v *Vizio) pair(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID      string `json:"DEVICE_ID"`
		ChallengeType int    `json:"CHALLENGE_TYPE"`
		ResponseValue string `json:"RESPONSE_VALUE"`
		ReqToken      int    `json:"PAIRING_REQ_TOKEN"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"STATUS": vizioStatus{Result: "INVALID_PARAMETER"}})
		return
	}

	if v.PairDelay > 0 {
		select {
		case <-time.After(v.PairDelay):
		case <-r.Context().Done():
			return
		}
	}

	v.mu.Lock()
	v.attempts++
	valid := body.ReqToken == v.reqToken && body.ResponseValue == v.PIN
	v.mu.Unlock()

	if !valid {
		writeJSON(w, http.StatusOK, map[string]any{"STATUS": vizioStatus{Result: "INVALID_PIN", Detail: "Invalid PIN"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"STATUS": vizioStatus{Result: "SUCCESS", Detail: "Success"},
		"ITEM":   map[string]string{"AUTH_TOKEN": v.AuthToken},
	})
}

func (v *Vizio) cancel(w http.ResponseWriter, _ *http.Request) {
	v.mu.Lock()
	v.cancelled++
	v.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"STATUS": vizioStatus{Result: "SUCCESS", Detail: "Success"}})
}

// Attempts returns how many PIN submissions were received.
func (v *Vizio) Attempts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.attempts
}

// Cancelled returns how many pairing cancellations were received.
func (v *Vizio) Cancelled() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancelled
}

// Roku simulates a Roku TV speaking the External Control Protocol.
type Roku struct {
	Model   string
	Name    string
	Serial  string
	ECPMode string
}

type rokuDeviceInfo struct {
	XMLName         xml.Name `xml:"device-info"`
	UDN             string   `xml:"udn"`
	SerialNumber    string   `xml:"serial-number"`
	VendorName      string   `xml:"vendor-name"`
	ModelName       string   `xml:"model-name"`
	FriendlyName    string   `xml:"friendly-device-name"`
	SoftwareVersion string   `xml:"software-version"`
	IsTV            bool     `xml:"is-tv"`
	ECPSettingMode  string   `xml:"ecp-setting-mode"`
}

func (k *Roku) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != "/query/device-info" {
		http.NotFound(w, r)
		return
	}
	mode := k.ECPMode
	if mode == "" {
		mode = "enabled"
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	_, _ = io.WriteString(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(rokuDeviceInfo{
		UDN:             "29380000-0800-1025-80a4-d83134a1b2c3",
		SerialNumber:    k.Serial,
		VendorName:      "Roku",
		ModelName:       k.Model,
		FriendlyName:    k.Name,
		SoftwareVersion: "11.5.0",
		IsTV:            true,
		ECPSettingMode:  mode,
	})
}

// Generic answers every request with 404 and a Server header.
type Generic struct {
	Server string
}

func (g *Generic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.Server != "" {
		w.Header().Set("Server", g.Server)
	}
	http.NotFound(w, r)
}
