package directdecisions

// Voting 创建投票的请求与响应
type Voting struct {
	ID      string   `json:"id,omitempty"`
	Choices []string `json:"choices"`
}

type ballotRequest struct {
	Ballot map[string]int `json:"ballot"`
}

type ballotResponse struct {
	Revoted bool `json:"revoted"`
}

// Outcome Schulze 计票结果，含两两对决明细
type Outcome struct {
	Results []Result `json:"results"`
	Tie     bool     `json:"tie"`
	Duels   []Duel   `json:"duels,omitempty"`
}

type Result struct {
	Choice     string  `json:"choice"`
	Index      int     `json:"index"`
	Wins       int     `json:"wins"`
	Percentage float64 `json:"percentage"`
	Strength   int     `json:"strength"`
	Advantage  int     `json:"advantage"`
}

type Duel struct {
	Left  DuelOutcome `json:"left"`
	Right DuelOutcome `json:"right"`
}

type DuelOutcome struct {
	Choice   string `json:"choice"`
	Index    int    `json:"index"`
	Strength int    `json:"strength"`
}

type errorResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}
