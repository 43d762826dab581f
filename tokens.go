package cachelot

// Wire-level response tokens, verbatim from the memcached ASCII
// protocol. Storage/retrieval handlers return one of these (sometimes
// built up with key/flags/bytes/cas) and HandleReceivedData is the only
// place that decides whether to actually write it, based on noreply.
const (
	tokStored       = "STORED\r\n"
	tokNotStored    = "NOT_STORED\r\n"
	tokExists       = "EXISTS\r\n"
	tokNotFound     = "NOT_FOUND\r\n"
	tokDeleted      = "DELETED\r\n"
	tokTouched      = "TOUCHED\r\n"
	tokOK           = "OK\r\n"
	tokEnd          = "END\r\n"
	tokError        = "ERROR\r\n"
	tokClientError  = "CLIENT_ERROR "
	tokServerError  = "SERVER_ERROR "
	tokVersion      = "VERSION "
	tokBadDataChunk = "CLIENT_ERROR bad data chunk\r\n"
	crlf            = "\r\n"
)

// ServerVersion is reported by the "version" command.
const ServerVersion = "1.0.0-cachelot"
