package adapter

var ProviderError = providerError

func (l JobLabels) Map() map[string]string {
	return l.toMap()
}
