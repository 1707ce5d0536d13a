package youpin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"skindiff/internal/domain"
)

// queryRequest is the body of POST querySaleTemplate.
type queryRequest struct {
	ListSortType int `json:"listSortType"`
	SortType     int `json:"sortType"`
	PageSize     int `json:"pageSize"`
	PageIndex    int `json:"pageIndex"`
}

// queryResponse wraps the sale-template listing. YouPin capitalizes the
// envelope key.
type queryResponse struct {
	Code int         `json:"Code"`
	Data []saleGoods `json:"Data"`
	Msg  string      `json:"Msg"`
}

// saleGoods is one template row. Prices arrive as decimal strings.
type saleGoods struct {
	ID                json.Number `json:"Id"`
	CommodityName     string      `json:"CommodityName"`
	CommodityHashName string      `json:"CommodityHashName"`
	Price             string      `json:"Price"`
	OnSaleCount       int         `json:"OnSaleCount"`
}

// toDomain converts a row to a domain item. Rows without a parseable price
// are dropped — an unpriced template cannot participate in a differential.
func (g *saleGoods) toDomain(fetchedAt time.Time) (domain.Item, bool) {
	price, err := strconv.ParseFloat(g.Price, 64)
	if err != nil || price <= 0 {
		return domain.Item{}, false
	}

	return domain.Item{
		HashKey:     g.CommodityHashName,
		DisplayName: g.CommodityName,
		Price:       price,
		SellCount:   g.OnSaleCount,
		SourceLink:  fmt.Sprintf("https://www.youpin898.com/goodInfo?id=%s", g.ID.String()),
		Marketplace: domain.MarketplaceYoupin,
		FetchedAt:   fetchedAt,
	}, true
}
