package api

// Route constants for the API endpoints.
const (
	// Health endpoints
	PingEndpoint = "/ping" // GET: Health check
	InfoEndpoint = "/info" // GET: Node info (hasher variant, receipt algorithm)

	// Nonce endpoints
	NoncesEndpoint = "/nonces" // POST: Mint a purpose-scoped nonce

	// Poll endpoints
	PollURLParam        = "pollId"                                    // URL parameter for poll ID
	PollsEndpoint       = "/polls"                                    // GET: List polls
	PollEndpoint        = PollsEndpoint + "/{" + PollURLParam + "}"   // GET: Get poll info
	PollResultsEndpoint = PollEndpoint + "/results"                   // GET: K-anonymous results (?breakdownBy=)
	PollRootEndpoint    = PollEndpoint + "/root"                      // GET: Current Merkle root
	PollAnchorsEndpoint = PollEndpoint + "/anchors"                   // GET: External-ledger anchors

	// Vote endpoints
	VoteIDURLParam        = "voteId"                                                    // URL parameter for vote ID
	VotesEndpoint         = "/votes"                                                    // POST: Submit a ballot
	VoteStatusEndpoint    = VotesEndpoint + "/{" + PollURLParam + "}/{" + VoteIDURLParam + "}" // GET: Check vote status
	ReceiptKeyEndpoint    = VotesEndpoint + "/receipt-key"                              // GET: Receipt verification public key (PEM)
	VerifyReceiptEndpoint = VotesEndpoint + "/verify-receipt"                           // POST: Verify a signed receipt

	// Audit endpoints
	AuditVerifyEndpoint = "/audit/verify" // GET: Walk the chain, report earliest break
	AuditEventsEndpoint = "/audit/events" // GET: K-anonymous event-kind summary
)
