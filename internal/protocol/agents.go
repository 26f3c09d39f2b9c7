package protocol

// AgentInfo describes one analysis worker in the service's fixed roster.
type AgentInfo struct {
	ID          string
	Name        string
	Icon        string
	Description string
}

// Agents is the service's worker roster, in execution order.
var Agents = []AgentInfo{
	{ID: "finance_guru", Name: "Finance Guru", Icon: "🏦", Description: "Analyzing financial metrics and market fundamentals"},
	{ID: "geopolitics_guru", Name: "Geopolitics Guru", Icon: "🌍", Description: "Evaluating global events and geopolitical impacts"},
	{ID: "legal_guru", Name: "Legal Guru", Icon: "⚖️", Description: "Assessing regulatory compliance and legal risks"},
	{ID: "quant_dev", Name: "Quant Dev", Icon: "📊", Description: "Performing technical analysis and statistical modeling"},
	{ID: "financial_analyst", Name: "Financial Analyst", Icon: "📈", Description: "Consolidating expert insights into final predictions"},
}

// AgentByID looks up a roster entry. The bool is false for ids outside the
// roster (the tracker still accepts them; this is display metadata only).
func AgentByID(id string) (AgentInfo, bool) {
	for _, a := range Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentInfo{}, false
}
