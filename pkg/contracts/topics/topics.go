package topics

const (
	// Kafka: log durável de mudanças, particionado por entity_id
	EntityChanges  = "entity_changes"
	CatalogUpdates = "catalog_updates"
)

// Canais do broker (Redis Pub/Sub), um por tipo de mensagem
const (
	LiveEntityNew    = "live.entity.new"
	LiveEntityUpdate = "live.entity.update"
	LiveOddsUpdate   = "live.odds.update"
	LiveMarketUpdate = "live.market.update"
	LiveManualUpdate = "live.entity.manual"
	LiveEntityRemove = "live.entity.remove"
)

// Live lista a taxonomia completa de canais, na ordem em que o gateway assina.
var Live = []string{
	LiveEntityNew,
	LiveEntityUpdate,
	LiveOddsUpdate,
	LiveMarketUpdate,
	LiveManualUpdate,
	LiveEntityRemove,
}

// IsLive indica se o nome pertence à taxonomia de canais ao vivo.
func IsLive(name string) bool {
	for _, t := range Live {
		if t == name {
			return true
		}
	}
	return false
}
