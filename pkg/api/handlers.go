package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/psaab/mrdisc/pkg/inet"
	"github.com/psaab/mrdisc/pkg/mrd"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) conns() []inet.Conn {
	if s.source == nil {
		return nil
	}
	return s.source.All()
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, StatusResponse{
		Version:    s.version,
		Uptime:     time.Since(s.startTime).Truncate(time.Second).String(),
		Interval:   s.interval,
		Interfaces: len(s.conns()),
	})
}

func (s *Server) interfacesHandler(w http.ResponseWriter, _ *http.Request) {
	conns := s.conns()
	out := make([]InterfaceInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, interfaceInfo(c))
	}
	writeOK(w, out)
}

func interfaceInfo(c inet.Conn) InterfaceInfo {
	st := c.Stats()
	info := InterfaceInfo{
		Name:       c.Name(),
		Family:     c.Family().String(),
		Index:      c.Index(),
		Sent:       byTypeName(st.Sent),
		Received:   byTypeName(st.Received),
		SendErrors: st.SendErrors,
		RecvErrors: st.RecvErrors,
		Healthy:    !st.LastSendFailed,
	}
	if !st.LastSend.IsZero() {
		t := st.LastSend
		info.LastSend = &t
	}
	return info
}

func byTypeName(m map[mrd.Type]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(m))
	for t, n := range m {
		out[t.String()] = n
	}
	return out
}
