// Package liveserver exposes a sheet.Sheet over a websocket, broadcasting
// every affected cell to connected clients as edits come in. It owns the
// concurrency the core sheet package deliberately omits: Sheet itself does
// no locking, so every access here is serialized through the Server's mutex.
package liveserver

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Maxibang/sheet/cellvalue"
	"github.com/Maxibang/sheet/formula"
	"github.com/Maxibang/sheet/position"
	"github.com/Maxibang/sheet/sheet"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local dev / demo server: accept any origin
	},
}

// Server pairs a Sheet with a set of live websocket clients. All exported
// methods are safe for concurrent use.
type Server struct {
	mu      sync.Mutex
	sheet   *sheet.Sheet
	clients map[*websocket.Conn]bool
}

// NewServer builds a Server around a freshly populated demo sheet.
func NewServer() *Server {
	s := &Server{
		sheet:   sheet.New(),
		clients: make(map[*websocket.Conn]bool),
	}
	s.populateIntro()
	return s
}

// UpdateRequest is the client -> server websocket message: either an edit
// ("set_cell"/"clear_cell") or a control message ("reset").
type UpdateRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Value string `json:"value,omitempty"`
}

// UpdateResponse is the server -> client websocket message describing one
// cell's current text and displayed value.
type UpdateResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Text    string `json:"text"`
	Display string `json:"display"`
	Error   string `json:"error,omitempty"`
}

// HandleWebSocket upgrades the request and services one client connection
// until it disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("upgrade error:", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	s.sendFullState(conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req UpdateRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			log.Println("decode error:", err)
			continue
		}

		switch req.Type {
		case "set_cell":
			s.applyEdit(req.ID, req.Value)
		case "clear_cell":
			s.applyClear(req.ID)
		case "reset":
			s.mu.Lock()
			s.populateIntro()
			s.mu.Unlock()
			s.broadcastReset()
		}
	}
}

func (s *Server) applyEdit(id, value string) {
	pos := position.Parse(id)
	if !pos.IsValid() {
		return
	}
	s.mu.Lock()
	err := s.sheet.SetCell(pos, value)
	affected := s.collectAffected(pos)
	s.mu.Unlock()
	if err != nil {
		log.Printf("set cell %s failed: %v", id, err)
	}
	s.broadcastPositions(affected)
}

func (s *Server) applyClear(id string) {
	pos := position.Parse(id)
	if !pos.IsValid() {
		return
	}
	s.mu.Lock()
	err := s.sheet.ClearCell(pos)
	affected := s.collectAffected(pos)
	s.mu.Unlock()
	if err != nil {
		log.Printf("clear cell %s failed: %v", id, err)
	}
	s.broadcastPositions(affected)
}

// collectAffected walks the dependency graph from pos outward, returning
// pos itself plus every direct and transitive dependent. Must be called
// with s.mu held.
func (s *Server) collectAffected(pos position.Position) []position.Position {
	seen := map[position.Position]bool{pos: true}
	order := []position.Position{pos}
	queue := []position.Position{pos}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range s.sheet.Dependents(cur) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			order = append(order, dep)
			queue = append(queue, dep)
		}
	}
	return order
}

func (s *Server) broadcastPositions(positions []position.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range positions {
		resp := s.responseFor(pos)
		s.writeToAll(resp)
	}
}

func (s *Server) broadcastReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeToAll(UpdateResponse{Type: "reset"})
	size := s.sheet.PrintableSize()
	for row := 0; row < size.Rows; row++ {
		for col := 0; col < size.Cols; col++ {
			pos := position.Position{Row: row, Col: col}
			cell, _ := s.sheet.GetCell(pos)
			if cell == nil {
				continue
			}
			s.writeToAll(s.responseFor(pos))
		}
	}
}

func (s *Server) sendFullState(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size := s.sheet.PrintableSize()
	for row := 0; row < size.Rows; row++ {
		for col := 0; col < size.Cols; col++ {
			pos := position.Position{Row: row, Col: col}
			cell, _ := s.sheet.GetCell(pos)
			if cell == nil {
				continue
			}
			if err := conn.WriteJSON(s.responseFor(pos)); err != nil {
				log.Printf("initial state write failed: %v", err)
				return
			}
		}
	}
}

// responseFor builds the UpdateResponse for pos. Must be called with s.mu
// held.
func (s *Server) responseFor(pos position.Position) UpdateResponse {
	cell, _ := s.sheet.GetCell(pos)
	resp := UpdateResponse{Type: "cell_updated", ID: pos.String()}
	if cell == nil {
		return resp
	}
	resp.Text = cell.Text()
	switch v := cell.Value(); v.Kind {
	case cellvalue.KindText:
		resp.Display = v.Text
	case cellvalue.KindNumber:
		resp.Display = formula.FormatNumber(v.Number)
	case cellvalue.KindError:
		resp.Error = v.Err.Error()
	}
	return resp
}

func (s *Server) writeToAll(resp UpdateResponse) {
	for client := range s.clients {
		if err := client.WriteJSON(resp); err != nil {
			log.Printf("broadcast write failed: %v", err)
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}

func (s *Server) mustSet(id, raw string) {
	pos := position.Parse(id)
	if err := s.sheet.SetCell(pos, raw); err != nil {
		log.Printf("set cell %s failed: %v", id, err)
	}
}

func (s *Server) populateIntro() {
	s.sheet = sheet.New()

	s.mustSet("A1", "Sheet demo")
	s.mustSet("B1", "edit any cell below")

	s.mustSet("A3", "arithmetic")
	s.mustSet("B3", "10")
	s.mustSet("C3", "32")
	s.mustSet("D3", "=B3+C3")

	s.mustSet("A5", "text")
	s.mustSet("B5", "'quoted literal")
	s.mustSet("C5", "42")
	s.mustSet("D5", "=C5")

	s.mustSet("A7", "chain")
	s.mustSet("B7", "1")
	s.mustSet("C7", "=B7+1")
	s.mustSet("D7", "=C7*2")
	s.mustSet("E7", "=D7*10")

	s.mustSet("A9", "errors")
	s.mustSet("B9", "=1/0")
	s.mustSet("C9", "=A5")
}

// Start serves the websocket endpoint and any static assets under dir on
// addr, blocking until the server stops.
func (s *Server) Start(addr, staticDir string) error {
	mux := http.NewServeMux()

	if _, err := os.Stat(staticDir); os.IsNotExist(err) {
		log.Printf("static directory %s not found; serving /ws only", staticDir)
	} else {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	mux.HandleFunc("/ws", s.HandleWebSocket)

	log.Printf("sheet live server listening on http://%s", addr)
	return http.ListenAndServe(addr, mux)
}
