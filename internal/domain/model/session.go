package model

// CredentialPair — пара access + refresh token, представляющая сессию входа.
type CredentialPair struct {
	AccessToken  string `json:"token"`        //nolint:gosec // G117: структура токена
	RefreshToken string `json:"refreshToken"` //nolint:gosec // G117: структура токена
}

// Complete — обе половины пары присутствуют.
func (c *CredentialPair) Complete() bool {
	return c != nil && c.AccessToken != "" && c.RefreshToken != ""
}

// Tier — уровень хранения пары токенов.
type Tier string

const (
	// TierEphemeral — пара живёт до конца процесса/сессии.
	TierEphemeral Tier = "ephemeral"
	// TierDurable — пара переживает перезапуск.
	TierDurable Tier = "durable"
)

// TierFor выбирает уровень хранения по флагу «запомнить меня».
func TierFor(persist bool) Tier {
	if persist {
		return TierDurable
	}
	return TierEphemeral
}

// Other возвращает противоположный уровень.
func (t Tier) Other() Tier {
	if t == TierDurable {
		return TierEphemeral
	}
	return TierDurable
}

// State — состояние сессии.
type State int

const (
	// StateUninitialized — Initialize ещё не вызывался.
	StateUninitialized State = iota
	// StateInitializing — идёт восстановление сессии из хранилища.
	StateInitializing
	// StateAuthenticated — есть Principal и пара токенов.
	StateAuthenticated
	// StateAnonymous — сессии нет.
	StateAnonymous
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}
