package domain

// QueryResult is the outcome of asking the transit service for a stop's
// arrivals: Records, UpstreamError or TransportFailure.
type QueryResult interface {
	queryResult()
}

// Records holds arrivals in the order the transit service returned them.
type Records struct {
	Arrivals []ArrivalRecord
}

// UpstreamError is a domain error reported by the transit service itself.
type UpstreamError struct {
	Code    int
	Message string
}

// TransportFailure means the query could not be completed or understood.
type TransportFailure struct {
	Cause error
}

func (Records) queryResult()          {}
func (UpstreamError) queryResult()    {}
func (TransportFailure) queryResult() {}
