package xrayctl

// Indirection layer to allow stubbing in tests

var (
	fnPredict    = runPredict
	fnStatus     = runStatus
	fnFetchImage = runFetchImage
	fnHealth     = runHealth
)
