package responseformat

import (
	"encoding/json"
	"net/http"

	"github.com/vmihailenco/msgpack/v5"
)

// Formatter handles encoding and writing responses in JSON or MessagePack format
type Formatter struct{}

// NewFormatter creates a new response formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// WriteResponse writes the response in the appropriate format based on the query parameter
// JSON is the default format. MessagePack is used when format=msgpack is specified
func (f *Formatter) WriteResponse(w http.ResponseWriter, req *http.Request, data any, headers map[string]string) error {
	return f.WriteStatus(w, req, http.StatusOK, data, headers)
}

// WriteStatus is WriteResponse with an explicit status code.
func (f *Formatter) WriteStatus(w http.ResponseWriter, req *http.Request, status int, data any, headers map[string]string) error {
	// Set any provided headers first
	for k, v := range headers {
		w.Header().Set(k, v)
	}

	if wantsMsgPack(req) {
		return f.writeMsgPack(w, status, data)
	}

	// Default to JSON format (when no format parameter or any other value)
	return f.writeJSON(w, status, data)
}

// WriteError writes an ErrorBody with the given status in the requested format.
func (f *Formatter) WriteError(w http.ResponseWriter, req *http.Request, status int, message, requestID string) error {
	return f.WriteStatus(w, req, status, ErrorBody{Error: message, RequestID: requestID}, nil)
}

// WriteRawJSON writes pre-encoded JSON, converting it when MessagePack is requested
func (f *Formatter) WriteRawJSON(w http.ResponseWriter, req *http.Request, jsonBytes []byte) error {
	if wantsMsgPack(req) {
		var data any
		if err := json.Unmarshal(jsonBytes, &data); err != nil {
			return err
		}
		return f.writeMsgPack(w, http.StatusOK, data)
	}

	w.Header().Set("Content-Type", "application/json")
	_, err := w.Write(jsonBytes)
	return err
}

// WriteCSV sends body as a downloadable CSV attachment.
func (f *Formatter) WriteCSV(w http.ResponseWriter, filename, body string) error {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, err := w.Write([]byte(body))
	return err
}

func wantsMsgPack(req *http.Request) bool {
	return req.URL.Query().Get("format") == "msgpack"
}

func (f *Formatter) writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

func (f *Formatter) writeMsgPack(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/x-msgpack")
	w.WriteHeader(status)
	encoder := msgpack.NewEncoder(w)
	encoder.SetCustomStructTag("json") // Use json tags for MessagePack
	return encoder.Encode(data)
}
