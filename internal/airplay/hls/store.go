package hls

import (
	"strconv"
	"strings"
	"sync"

	"github.com/ashwilson/go-airplay/internal/airplay/playback"
	"github.com/ashwilson/go-airplay/internal/errors"
	"github.com/ashwilson/go-airplay/internal/logger"
)

// MasterPlaylistKey is the fixed local path under which the rewritten
// master playlist is always stored, regardless of its source URI.
const MasterPlaylistKey = "/master.m3u8"

// Fetcher sends an FCUP request for a sender-origin URI and is satisfied by
// *reverse.Channel; narrowed to an interface so the fetch orchestration can
// be tested without a real socket.
type Fetcher interface {
	SendFCUPRequest(appleSessionID string, requestID int64, uri string) error
}

// Store drives the FCUP fetch protocol for one playback session and serves
// the resulting playlist tree back over loopback HTTP. One Store per
// playback.Session.
type Store struct {
	mu sync.Mutex

	session   *playback.Session
	fetcher   Fetcher
	localHost string
	log       *logger.Logger

	appID          appID
	pendingByURI   map[string]string // local-rewritten path -> original sender URI, for in-flight lookups
	requestByID    map[int64]string  // outstanding FCUP request id -> sender URI
	languageCode   string
}

// NewStore binds a fetch orchestrator to session, issuing FCUP requests
// through fetcher and rewriting sender URIs against localHost (typically
// "localhost:<http_port>").
func NewStore(session *playback.Session, fetcher Fetcher, localHost string, log *logger.Logger) *Store {
	return &Store{
		session:      session,
		fetcher:      fetcher,
		localHost:    localHost,
		log:          log,
		pendingByURI: make(map[string]string),
		requestByID:  make(map[int64]string),
	}
}

// BeginFetch kicks off the fetch protocol for a newly started playback:
// it requests the master playlist named by contentLocation.
func (s *Store) BeginFetch(contentLocation string) error {
	s.mu.Lock()
	s.appID = detectAppID(contentLocation)
	s.mu.Unlock()
	return s.requestURI(contentLocation)
}

func (s *Store) requestURI(senderURI string) error {
	reqID := s.session.NextRequestID()
	s.mu.Lock()
	s.requestByID[reqID] = senderURI
	s.mu.Unlock()
	return s.fetcher.SendFCUPRequest(s.session.AppleSessionID, reqID, stripSchemeForFetch(senderURI))
}

// HandleFCUPReply processes one unhandledURLResponse /action body: requestID
// identifies which outstanding fetch this answers, and data is the raw
// playlist text the sender returned. The reply is handled as a master
// playlist when the URI that request was issued for passes isPrimaryURI,
// and as a media playlist otherwise.
func (s *Store) HandleFCUPReply(requestID int64, data string) error {
	s.mu.Lock()
	senderURI, ok := s.requestByID[requestID]
	if ok {
		delete(s.requestByID, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return errors.NewProtocolError("hls.handleFCUPReply", nil)
	}

	if isPrimaryURI(senderURI) {
		return s.handleMasterReply(data)
	}
	return s.handleMediaReply(senderURI, data)
}

func (s *Store) handleMasterReply(data string) error {
	parsed := parseMaster(data)
	for _, uri := range parsed.uniqueURIs() {
		s.session.EnqueueURI(uri)
	}

	rewritten := rewriteMaster(data, s.localHost)
	s.mu.Lock()
	lang := s.languageCode
	s.mu.Unlock()
	rewritten = selectLanguage(rewritten, lang)
	s.session.SetMasterPlaylist(rewritten)

	return s.drainQueue()
}

func (s *Store) handleMediaReply(senderURI, data string) error {
	data = expandCondensedURLs(data)
	chunkCount := strings.Count(data, "#EXTINF:")
	duration := sumExtinf(data)

	localPath := localPathFor(senderURI, s.localHost)
	rewritten := strings.ReplaceAll(data, mlhlsScheme, "http://"+s.localHost+"/")
	rewritten = strings.ReplaceAll(rewritten, nfhlsScheme, "http://"+s.localHost+"/")
	s.session.StoreMediaPlaylist(localPath, rewritten, chunkCount, duration)

	return s.drainQueue()
}

// drainQueue requests the next pending URI, if any; once the queue is
// empty every variant/rendition has been fetched and playback can start.
func (s *Store) drainQueue() error {
	uri, ok := s.session.DequeueURI()
	if !ok {
		s.log.Debug("hls playlist tree fully fetched", "apple_session_id", s.session.AppleSessionID)
		return nil
	}
	return s.requestURI(uri)
}

// Ready reports whether every queued URI has been fetched and the master
// playlist is ready to be handed to the renderer.
func (s *Store) Ready() bool {
	return s.session.PendingCount() == 0 && s.session.GetMasterPlaylist() != ""
}

// LocalMasterURL is the URL the renderer should be told to play.
func (s *Store) LocalMasterURL() string {
	return "http://" + s.localHost + MasterPlaylistKey
}

// SetLanguage records the sender-provided preferred audio language, applied
// to the master playlist the next time it is (re)written.
func (s *Store) SetLanguage(code string) {
	s.mu.Lock()
	s.languageCode = code
	s.mu.Unlock()
}

// Serve looks up the cached playlist text for an incoming loopback GET.
func (s *Store) Serve(path string) (string, bool) {
	if path == MasterPlaylistKey {
		text := s.session.GetMasterPlaylist()
		return text, text != ""
	}
	return s.session.GetMediaPlaylist(path)
}

func localPathFor(senderURI, localHost string) string {
	rewritten := rewriteURI(senderURI, localHost)
	return strings.TrimPrefix(rewritten, "http://"+localHost)
}

func sumExtinf(data string) float64 {
	var total float64
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}
		rest := strings.TrimPrefix(line, "#EXTINF:")
		end := strings.IndexByte(rest, ',')
		if end >= 0 {
			rest = rest[:end]
		}
		if v, err := strconv.ParseFloat(rest, 64); err == nil {
			total += v
		}
	}
	return total
}
