// Package wire holds the two text formats spoken between peers: the
// line-delimited chat transport and the multicast discovery datagram.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	IDPrefix       = "/id:"
	DiscoverPrefix = "DISCOVER:"
)

var (
	ErrNotID                 = errors.New("line is not an id announcement")
	ErrMalformedAnnouncement = errors.New("malformed discovery announcement")
)

// Announcement is the payload of a discovery datagram.
type Announcement struct {
	TCPPort  int
	UserName string
}

// IDLine renders the handshake line for peerID, without terminator.
func IDLine(peerID string) string {
	return IDPrefix + peerID
}

// ParseID extracts the peer id from a handshake line. Surrounding
// whitespace is ignored; an empty id is not an id.
func ParseID(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, IDPrefix) {
		return "", ErrNotID
	}
	id := strings.TrimSpace(line[len(IDPrefix):])
	if id == "" {
		return "", ErrNotID
	}
	return id, nil
}

// ChatLine formats text sent by userName the way every peer displays and
// stores it.
func ChatLine(userName, text string) string {
	return fmt.Sprintf("[%s]: %s", userName, text)
}

// Encode renders the datagram body.
func (a Announcement) Encode() []byte {
	return []byte(fmt.Sprintf("%s%d:%s", DiscoverPrefix, a.TCPPort, a.UserName))
}

// ParseAnnouncement decodes DISCOVER:<tcpPort>:<userName>. The user name
// is everything after the second colon and may itself contain colons.
func ParseAnnouncement(data []byte) (Announcement, error) {
	msg := string(data)
	if !strings.HasPrefix(msg, DiscoverPrefix) {
		return Announcement{}, ErrMalformedAnnouncement
	}

	parts := strings.SplitN(msg, ":", 3)
	if len(parts) < 3 {
		return Announcement{}, fmt.Errorf("%w: missing fields", ErrMalformedAnnouncement)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return Announcement{}, fmt.Errorf("%w: bad port %q", ErrMalformedAnnouncement, parts[1])
	}

	return Announcement{
		TCPPort:  port,
		UserName: parts[2],
	}, nil
}
