package sandbox

import "sync"

// Room groups clients joined to the same channel.
type Room struct {
	ChannelID int64
	clients   map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(channelID int64) *Room {
	return &Room{
		ChannelID: channelID,
		clients:   make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Broadcast queues payload for every client in the room and returns how
// many accepted it.
func (r *Room) Broadcast(payload []byte) int {
	delivered := 0
	for client := range r.clients {
		if client.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// Hub tracks which connections are joined to which channel and which
// connections belong to which user.
type Hub struct {
	mu    sync.Mutex
	rooms map[int64]*Room
	users map[int64]map[*Client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[int64]*Room),
		users: make(map[int64]map[*Client]struct{}),
	}
}

// Register indexes an authenticated client by its user.
func (h *Hub) Register(c *Client) {
	user := c.User()
	if user == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[user.ID]
	if !ok {
		set = make(map[*Client]struct{})
		h.users[user.ID] = set
	}
	set[c] = struct{}{}
}

// Unregister drops a client from its room and the user index.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
	if user := c.User(); user != nil {
		if set, ok := h.users[user.ID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.users, user.ID)
			}
		}
	}
}

// Join moves a client into the room of channelID. A client is in at most one room.
func (h *Hub) Join(c *Client, channelID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
	room, ok := h.rooms[channelID]
	if !ok {
		room = NewRoom(channelID)
		h.rooms[channelID] = room
	}
	room.AddClient(c)
	c.channel = channelID
}

// Channel returns the channel the client is joined to.
func (h *Hub) Channel(c *Client) (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.channel, c.channel != 0
}

// Broadcast sends payload to every client joined to channelID.
func (h *Hub) Broadcast(channelID int64, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[channelID]
	if !ok {
		return 0
	}
	return room.Broadcast(payload)
}

// NotifyUser sends payload to every connection of userID.
func (h *Hub) NotifyUser(userID int64, payload []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for client := range h.users[userID] {
		if client.enqueue(payload) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) leaveLocked(c *Client) {
	if c.channel == 0 {
		return
	}
	if room, ok := h.rooms[c.channel]; ok {
		room.RemoveClient(c)
		if room.Empty() {
			delete(h.rooms, c.channel)
		}
	}
	c.channel = 0
}
