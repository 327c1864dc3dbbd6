package catalog

import (
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

const newsColumns = `ID AS "id", headline AS "headline", link AS "link", body AS "body", date AS "date",
  rank AS "rank", view_status AS "viewStatus", create_date AS "createDate", modify_date AS "modifyDate"`

// Stories with view_status below this are drafts.
const publishedStatus = 2

func news(d sqlexec.Dialect) []queryapi.Definition {
	return []queryapi.Definition{
		{
			Name: NewsList,
			Args: []queryapi.ArgumentSpec{
				{
					Name:        "minViewStatus",
					StorageType: queryapi.TypeInt,
					Default:     publishedStatus,
					Tolerate:    true,
					Resolver:    queryapi.Int("query.minViewStatus"),
				},
				arg("limit", queryapi.TypeNone, queryapi.Optional(queryapi.Int("query.limit"), 50)),
			},
			Template: func(a queryapi.Args) string {
				top, tail := d.Limit(clamp(a.Int("limit"), 1, 500))
				return `SELECT ` + top + newsColumns + `
FROM tblNews WHERE view_status >= @minViewStatus
ORDER BY CASE WHEN rank IS NULL THEN 1 ELSE 0 END, rank, create_date DESC` + tail
			},
		},
		{
			Name:     NewsGet,
			NotFound: "news item not found",
			Args: []queryapi.ArgumentSpec{arg("id", queryapi.TypeInt, queryapi.Int("params.id"))},
			Template: func(queryapi.Args) string {
				return `SELECT ` + newsColumns + ` FROM tblNews WHERE ID = @id`
			},
		},
		{
			Name: NewsCreate,
			Args: []queryapi.ArgumentSpec{
				arg("headline", queryapi.TypeNVarChar, queryapi.NonEmptyString("body.story.headline")),
				arg("link", queryapi.TypeNVarChar, queryapi.Optional(queryapi.String("body.story.link"), nil)),
				arg("body", queryapi.TypeNVarChar, queryapi.NonEmptyString("body.story.content")),
				arg("date", queryapi.TypeNVarChar, queryapi.Optional(queryapi.String("body.story.date"), nil)),
				arg("rank", queryapi.TypeInt, queryapi.Optional(queryapi.Int("body.rank"), nil)),
				arg("view_status", queryapi.TypeInt, queryapi.Optional(queryapi.Int("body.viewStatus"), publishedStatus)),
				arg("UserId", queryapi.TypeInt, queryapi.UserID()),
			},
			Template: func(queryapi.Args) string {
				return d.InsertReturning("tblNews", "ID", []string{"headline", "link", "body", "date", "rank", "view_status", "UserId"})
			},
		},
		{
			Name: NewsUpdate,
			Args: []queryapi.ArgumentSpec{
				arg("id", queryapi.TypeInt, queryapi.Int("body.id")),
				arg("headline", queryapi.TypeNVarChar, queryapi.NonEmptyString("body.story.headline")),
				arg("link", queryapi.TypeNVarChar, queryapi.Optional(queryapi.String("body.story.link"), nil)),
				arg("body", queryapi.TypeNVarChar, queryapi.NonEmptyString("body.story.content")),
				arg("date", queryapi.TypeNVarChar, queryapi.Optional(queryapi.String("body.story.date"), nil)),
				arg("viewStatus", queryapi.TypeInt, queryapi.Optional(queryapi.Int("body.viewStatus"), publishedStatus)),
				arg("userId", queryapi.TypeInt, queryapi.UserID()),
			},
			Template: func(queryapi.Args) string {
				out, tail := returning(d, "UPDATE", "ID")
				return `UPDATE tblNews
SET headline = @headline, link = @link, body = @body, date = @date, view_status = @viewStatus,
  UserId = @userId, modify_date = ` + d.Now() + out + `
WHERE ID = @id` + tail
			},
		},
		{
			// Ranks are interpolated as integers through CaseWhen; nothing
			// else reaches the statement text.
			Name: NewsUpdateRanks,
			Args: []queryapi.ArgumentSpec{
				arg("ranks", queryapi.TypeNone, queryapi.RankList("body.ranks")),
				arg("userId", queryapi.TypeInt, queryapi.UserID()),
			},
			Template: func(a queryapi.Args) string {
				ranks := a.Ranks("ranks")
				out, tail := returning(d, "UPDATE", "ID")
				return `UPDATE tblNews
SET rank = ` + queryapi.CaseWhen("ID", ranks) + `, UserId = @userId, modify_date = ` + d.Now() + out + `
WHERE ID IN ` + queryapi.InList(queryapi.RankIDs(ranks)) + tail
			},
		},
		{
			Name: NewsDelete,
			Args: []queryapi.ArgumentSpec{arg("id", queryapi.TypeInt, queryapi.Int("body.id"))},
			Template: func(queryapi.Args) string {
				out, tail := returning(d, "DELETE", "ID")
				return `DELETE FROM tblNews` + out + ` WHERE ID = @id` + tail
			},
		},
	}
}
