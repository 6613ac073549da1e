package events

// Event names the aggregation core understands. Anything else is stored and counted
// towards activity but carries no metric of its own.
const (
	SessionStart      = "session_start"
	SessionEnd        = "session_end"
	GameStart         = "game_start"
	GameEnd           = "game_end"
	MissionStart      = "mission_start"
	MissionComplete   = "mission_complete"
	AchievementUnlock = "achievement_unlock"
	ContinueUsed      = "continue_used"
	AdShown           = "ad_shown"
	AdCompleted       = "ad_completed"
	AdAbandoned       = "ad_abandoned"
	CurrencyEarned    = "currency_earned"
	CurrencySpent     = "currency_spent"
	IAPPurchase       = "iap_purchase"
	ErrorOccurred     = "error_occurred"
)

// Parameter keys read by the aggregation core.
const (
	ParamSessionDuration = "session_duration_seconds"
	ParamScore           = "score"
	ParamContinueType    = "continue_type"
	ParamCurrencyType    = "currency_type"
	ParamAmount          = "amount"
	ParamPriceUSD        = "price_usd"
)

// Platforms with their own DAU split.
const (
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)
