package cache

// Chaves Redis compartilhadas entre processor (escrita) e gateway (leitura)

const (
	KeyCatalog   = "live:catalog"
	KeyHydration = "live:hydration"
)

// OddsKey guarda a última foto de preços de uma partida
func OddsKey(entityID string) string { return "odds:current:" + entityID }
