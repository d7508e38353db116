package conn

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/shelfdb/shelfdb/internal/auth"
	"github.com/shelfdb/shelfdb/internal/search"
	"github.com/shelfdb/shelfdb/internal/table"
	"github.com/shelfdb/shelfdb/internal/throttle"
	"github.com/shelfdb/shelfdb/pkg"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__shelf_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the request boundary. It answers the key-value GET/POST
// API on "/" and the tagged JSON action schema on "/ws", both backed
// by the same core calls.
type Server struct {
	set       *table.TableSet
	engine    *search.Engine
	authority *auth.Authority
	gate      *throttle.Gate

	// bounded worker admission. one slot degenerates to synchronous
	// handling.
	workers chan struct{}
}

func NewServer(set *table.TableSet, engine *search.Engine, authority *auth.Authority, gate *throttle.Gate, workers int) *Server {
	if workers < 1 {
		workers = 1
	}
	return &Server{
		set:       set,
		engine:    engine,
		authority: authority,
		gate:      gate,
		workers:   make(chan struct{}, workers),
	}
}

func (s *Server) Listen(port int) {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", s.HandleSocket)
	mux.HandleFunc("/", s.HandleRequest)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			pkg.FatalLog(err)
		}
	}()

	s.authority.StartSweeper()

	pkg.InfoLog("ShelfDB listening on port", port)
	<-exit
	pkg.DebugLog("Shutting down...")
	s.authority.Stop()
	srv.Shutdown(context.Background())
}

// ClientIP prefers the X-Forwarded-For chain over the peer address so
// throttling survives a reverse proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusError interface {
	error
	Status() int
}

func errorStatus(err error) int {
	if se, ok := err.(statusError); ok {
		return se.Status()
	}
	return http.StatusBadRequest
}

func (s *Server) acquire() { s.workers <- struct{}{} }
func (s *Server) release() { <-s.workers }

func (s *Server) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.ErrorLog(err)
		return
	}
	defer conn.Close()
	defer pkg.InfoLog("Connection closed from", r.RemoteAddr)

	ip := ClientIP(r)
	for {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pkg.ErrorLog("conn read error", err)
			}
			return
		}

		s.acquire()
		res := s.HandleAction(ip, buf)
		s.release()
		if err := conn.WriteJSON(res); err != nil {
			pkg.ErrorLog("writing response", err)
			return
		}
	}
}
