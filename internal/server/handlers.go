package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/admission"
)

// WebSocketHandler upgrades an admitted request and attaches a session for
// it. Admission runs first, in the middleware installed by Routes.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	id := s.identify(r)
	if id.UserID == "" {
		http.Error(w, ErrMissingUserID.Error(), http.StatusBadRequest)
		return
	}

	// Upgrade hijacks the connection, so the admission headers are passed on explicitly.
	conn, err := s.upgrader.Upgrade(w, r, w.Header())
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	session, err := s.hub.Attach(conn, Identity{
		UserID: id.UserID,
		RoomID: r.URL.Query().Get("room_id"),
		IP:     id.IP,
		Tier:   id.Tier,
	})
	if err != nil {
		s.logger.Warn("Rejecting WebSocket connection", "user_id", id.UserID, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		_ = conn.Close()
		return
	}
	s.logger.Debug("WebSocket session attached", "connection_id", session.ID(), "room_id", session.Room())
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Room chat server is running!")
}

// HealthzHandler reports liveness as JSON with connection and room counts.
func (s *Server) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	stats := s.hub.Stats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": stats.ActiveConnections,
		"rooms":       stats.ActiveRooms,
	})
}

// StatsHandler returns the hub snapshot.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.Stats())
}

// AdmissionStatsHandler returns the admission controller summary.
func (s *Server) AdmissionStatsHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.hub.admission.Stats())
}

// AdmissionUserHandler returns the admission state of one user.
func (s *Server) AdmissionUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	s.writeJSON(w, http.StatusOK, struct {
		UserID string `json:"user_id"`
		admission.UserStats
	}{userID, s.hub.admission.UserStats(userID)})
}

// UnblockUserHandler lifts a user block and clears its violations.
func (s *Server) UnblockUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	was := s.hub.admission.UnblockUser(userID)
	s.logger.Info("Unblocked user", "user_id", userID, "was_blocked", was)
	s.writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "was_blocked": was})
}

// UnblockIPHandler lifts an address block.
func (s *Server) UnblockIPHandler(w http.ResponseWriter, r *http.Request) {
	ip := r.PathValue("ip")
	was := s.hub.admission.UnblockIP(ip)
	s.logger.Info("Unblocked IP", "ip", ip, "was_blocked", was)
	s.writeJSON(w, http.StatusOK, map[string]any{"ip": ip, "was_blocked": was})
}

// DisconnectHandler closes one connection.
func (s *Server) DisconnectHandler(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("id")
	if !s.hub.Disconnect(connID) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "connection not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error writing JSON response", "error", err)
	}
}

// TestPageHandler serves an HTML page for trying rooms from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Error("Error writing HTML response", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Room Chat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        #typing { color: #666; font-style: italic; min-height: 1em; }
    </style>
</head>
<body>
    <h1>Room Chat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userInput" placeholder="User id" value="guest">
        <input type="text" id="roomInput" placeholder="Room" value="general">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button id="joinButton" onclick="joinRoom()" disabled>Join room</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="aiButton" onclick="askAI()" disabled>Ask AI</button>
    </div>

    <div id="messages"></div>
    <div id="typing"></div>

    <script>
        let ws = null;
        let typing = false;
        let requestSeq = 0;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const statusDiv = document.getElementById('status');
        const typingDiv = document.getElementById('typing');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            for (const id of ['messageInput', 'sendButton', 'aiButton', 'joinButton']) {
                document.getElementById(id).disabled = !connected;
            }
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(obj) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(obj));
            }
        }

        function render(ev) {
            switch (ev.type) {
            case 'welcome':
                addLine(ev.message + ' (' + ev.room_users.length + ' online)');
                ev.recent_messages.forEach(m => addLine(m.user_id + ': ' + m.content, 'black'));
                break;
            case 'room_changed':
                addLine('Moved to room ' + ev.room_id + ' (' + ev.room_users.length + ' online)');
                ev.recent_messages.forEach(m => addLine(m.user_id + ': ' + m.content, 'black'));
                break;
            case 'chat_message':
                addLine(ev.user_id + ': ' + ev.content, 'green');
                break;
            case 'user_joined':
            case 'user_left':
                addLine(ev.user_id + (ev.type === 'user_joined' ? ' joined' : ' left'));
                break;
            case 'typing_update':
                typingDiv.textContent = ev.typing_users.length ? ev.typing_users.join(', ') + ' typing...' : '';
                break;
            case 'ai_response':
                addLine(ev.user_id + ' (' + ev.personality + '): ' + ev.content, 'purple');
                break;
            case 'ai_error':
                addLine('AI error for ' + ev.request_id + ': ' + ev.error, 'red');
                break;
            default:
                addLine(JSON.stringify(ev));
            }
        }

        function connect() {
            const user = encodeURIComponent(document.getElementById('userInput').value.trim() || 'guest');
            const room = encodeURIComponent(document.getElementById('roomInput').value.trim() || 'general');
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws/' + user + '?room_id=' + room);
            ws.onopen = () => setConnected(true);
            ws.onmessage = (event) => render(JSON.parse(event.data));
            ws.onclose = () => { addLine('Connection closed'); setConnected(false); ws = null; };
            ws.onerror = () => addLine('Connection error', 'red');
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function joinRoom() {
            send({type: 'join_room', room_id: document.getElementById('roomInput').value.trim() || 'general'});
        }

        function sendMessage() {
            const content = messageInput.value.trim();
            if (content) {
                send({type: 'chat_message', content: content});
                messageInput.value = '';
                stopTyping();
            }
        }

        function askAI() {
            const content = messageInput.value.trim();
            if (content) {
                send({type: 'ai_request', request_id: 'r' + (++requestSeq), content: content});
                messageInput.value = '';
                stopTyping();
            }
        }

        function stopTyping() {
            if (typing) {
                typing = false;
                send({type: 'typing_stop'});
            }
        }

        messageInput.addEventListener('input', function() {
            if (!typing && messageInput.value) {
                typing = true;
                send({type: 'typing_start'});
            } else if (!messageInput.value) {
                stopTyping();
            }
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
