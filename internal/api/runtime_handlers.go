package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// RuntimeInfo describes the runtime behind the API.
type RuntimeInfo struct {
	ID              string          `json:"id"`
	Version         string          `json:"version"`
	ProtocolVersion string          `json:"protocol_version"`
	Descriptors     []ir.Descriptor `json:"descriptors"`
}

// TransactionDetail is a transaction with its recorded transitions.
type TransactionDetail struct {
	Transaction ir.Transaction  `json:"transaction"`
	Transitions []ir.Transition `json:"transitions"`
}

// ContainerInfo is the visible state of one container.
type ContainerInfo struct {
	Item  ir.ComponentItem `json:"item"`
	State container.State  `json:"state"`
}

func (s *Server) GetRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RuntimeInfo{
		ID:              s.Runtime.ID(),
		Version:         ir.RuntimeVersion,
		ProtocolVersion: ir.ProtocolVersion,
		Descriptors:     s.Runtime.Descriptors(),
	})
}

func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs := s.Runtime.History().Transactions()
	if txs == nil {
		txs = []ir.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, ok := s.Runtime.History().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, TransactionDetail{
		Transaction: tx,
		Transitions: s.Runtime.History().Transitions(id),
	})
}

func (s *Server) ListContainers(w http.ResponseWriter, r *http.Request) {
	cs := s.Runtime.Containers()
	out := make([]ContainerInfo, 0, len(cs))
	for _, c := range cs {
		out = append(out, ContainerInfo{Item: c.Item(), State: c.State()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Runtime.Notifier().Recent())
}
