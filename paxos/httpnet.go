package paxos

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ezgisenak/Paxos-Tendermint/paxos/messages"
)

// HTTPNet implements the Messenger contract over HTTP, so a real multi
// process deployment can replace the simulated network without changes to
// the roles. Messages addressed to a locally registered node are delivered
// in process; everything else is POSTed as json to the peer responsible
// for the destination id.
type HTTPNet struct {
	client *http.Client
	sink   Sink

	mu    sync.Mutex
	local map[string]Node
	peers map[string]string // node id -> base URL
}

// NewHTTPNet creates an HTTP messenger. peers maps remote node ids to their
// base URLs; timeout bounds every outgoing request.
func NewHTTPNet(peers map[string]string, timeout time.Duration, sink Sink) *HTTPNet {
	if sink == nil {
		sink = NopSink{}
	}
	p := make(map[string]string, len(peers))
	for id, url := range peers {
		p[id] = url
	}
	return &HTTPNet{
		client: &http.Client{Timeout: timeout},
		sink:   sink,
		local:  make(map[string]Node),
		peers:  p,
	}
}

// Register adds a locally hosted node.
func (h *HTTPNet) Register(n Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.local[n.ID()] = n
}

// Unregister removes a locally hosted node.
func (h *HTTPNet) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.local, id)
}

// Send delivers locally when possible, otherwise posts the message to the
// peer owning the destination. Delivery is asynchronous either way; an
// unreachable peer is logged and forgotten, the protocol tolerates loss.
func (h *HTTPNet) Send(msg messages.Message) {
	record(h.sink, msg.Slot, msg.From, "messenger", EventMsgSent, msg.Kind)

	h.mu.Lock()
	node, isLocal := h.local[msg.To]
	url, isPeer := h.peers[msg.To]
	h.mu.Unlock()

	if isLocal {
		go func() {
			record(h.sink, msg.Slot, msg.To, "messenger", EventMsgDelivered, msg.Kind)
			node.Receive(msg)
		}()
		return
	}
	if !isPeer {
		log.Printf("[HTTPNET] -> No route to node %s, dropping %s message.", msg.To, msg.Kind)
		record(h.sink, msg.Slot, msg.From, "messenger", EventMsgDropped, msg.Kind)
		return
	}

	go h.post(url+"/paxos/receive", msg)
}

func (h *HTTPNet) post(url string, msg messages.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[HTTPNET] -> Could not marshal %s message: %v", msg.Kind, err)
		return
	}

	res, err := h.client.Post(url, "application/json", bytes.NewBuffer(body))
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil {
		log.Printf("[HTTPNET] -> Node at %s is not reachable, message considered dropped.", url)
		record(h.sink, msg.Slot, msg.From, "messenger", EventMsgDropped, msg.Kind)
		return
	}
	_, _ = ioutil.ReadAll(res.Body)
	record(h.sink, msg.Slot, msg.From, "messenger", EventMsgDelivered, msg.Kind)
}

// Handler returns the receiving end of the transport: it decodes a posted
// message and delivers it to the locally registered destination node.
func (h *HTTPNet) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := ioutil.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		msg := messages.Message{}
		if err := json.Unmarshal(b, &msg); err != nil {
			http.Error(w, err.Error(), 500)
			return
		}

		h.mu.Lock()
		node, ok := h.local[msg.To]
		h.mu.Unlock()
		if !ok {
			log.Printf("[HTTPNET] -> Received %s message for unknown node %s, dropping it.", msg.Kind, msg.To)
			w.WriteHeader(http.StatusAccepted)
			return
		}

		record(h.sink, msg.Slot, msg.To, "messenger", EventMsgDelivered, msg.Kind)
		node.Receive(msg)
		w.WriteHeader(http.StatusAccepted)
	}
}

// ToJson is used to marshal interfaces into a valid json string.
func ToJson(i interface{}) string {
	res, _ := json.MarshalIndent(i, "", "	")
	return string(res)
}

// AddContentTypeJson adds the content type header to responses.
func AddContentTypeJson(w *http.ResponseWriter) {
	(*w).Header().Set("Content-Type", "application/json")
}

// EnableCors allows requests from anywhere.
func EnableCors(w *http.ResponseWriter) {
	(*w).Header().Set("Access-Control-Allow-Origin", "*")
}
