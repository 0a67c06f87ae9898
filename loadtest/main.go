package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"go-dm/internal/user"
)

type conversationResponse struct {
	ID      string `json:"conversation_id"`
	Created bool   `json:"created"`
}

type frame struct {
	Type           string `json:"type"`
	Ref            string `json:"ref,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
}

var (
	baseURL  = flag.String("url", "http://localhost:8080", "gateway base url")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("messages", 20, "messages per user")
	secret   = flag.String("secret", os.Getenv("JWT_SECRET"), "jwt secret shared with the gateway")

	sent, failed atomic.Int64
)

func main() {
	flag.Parse()
	if *secret == "" {
		log.Fatal("❌ -secret or JWT_SECRET is required")
	}
	tokens := user.NewService(*secret)

	log.Info("🔥 STARTING STRESS TEST", "users", *pairs*2, "messages_each", *msgCount)
	start := time.Now()
	var wg sync.WaitGroup

	// Pair i: u_i_a talks to u_i_b.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(tokens, pairID)
		}(i)
	}

	wg.Wait()
	log.Info("✅ LOAD TEST COMPLETE", "sent", sent.Load(), "failed", failed.Load(), "took", time.Since(start).Round(time.Millisecond))
}

func runPair(tokens *user.Service, pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)

	tokenA, errA := tokens.IssueToken(userA, userA, time.Hour)
	tokenB, errB := tokens.IssueToken(userB, userB, time.Hour)
	if errA != nil || errB != nil {
		log.Error("❌ Token mint failed", "pair", pairID)
		return
	}

	convID := createConversation(tokenA, userB)
	if convID == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, tokenA, convID, userA)
	go spamChat(&wsWg, tokenB, convID, userB)
	wsWg.Wait()
}

func createConversation(token, peerID string) string {
	jsonBody, _ := json.Marshal(map[string]string{"peer_id": peerID})
	req, _ := http.NewRequest(http.MethodPost, *baseURL+"/api/conversations", bytes.NewBuffer(jsonBody))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Error("❌ Create Chat Failed", "err", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		log.Error("❌ Create Chat Failed", "status", resp.StatusCode)
		return ""
	}

	var data conversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

// spamChat opens a session, selects the conversation and sends over the
// websocket, counting acks and errors.
func spamChat(wg *sync.WaitGroup, token, convID, userID string) {
	defer wg.Done()

	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Error("❌ WS Connect Fail", "user", userID, "err", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var in frame
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			switch {
			case in.Type == "ack" && strings.HasPrefix(in.Ref, "m"):
				sent.Add(1)
			case in.Type == "error":
				failed.Add(1)
				log.Warn("send rejected", "user", userID, "code", in.Code, "msg", in.Message)
			}
		}
	}()

	if err := conn.WriteJSON(frame{Type: "select", ConversationID: convID, Ref: "select"}); err != nil {
		log.Error("❌ Select Fail", "user", userID, "err", err)
		return
	}
	for i := 0; i < *msgCount; i++ {
		err := conn.WriteJSON(frame{
			Type:           "send",
			Ref:            fmt.Sprintf("m%d", i),
			ConversationID: convID,
			Text:           fmt.Sprintf("LoadTest Msg %d from %s", i, userID),
		})
		if err != nil {
			log.Error("❌ Send Fail", "user", userID, "err", err)
			break
		}
		// Small sleep to simulate a real network instead of a localhost burst.
		time.Sleep(10 * time.Millisecond)
	}

	// Give the last acks a moment before closing.
	time.Sleep(500 * time.Millisecond)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	log.Info("✅ finished sending", "user", userID, "messages", *msgCount)
}
