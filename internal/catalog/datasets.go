package catalog

import (
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

func datasets(d sqlexec.Dialect) []queryapi.Definition {
	const columns = `ID AS "id", Dataset_Name AS "shortName", Dataset_Long_Name AS "longName",
  Description AS "description", Data_Source AS "dataSource", Distributor AS "distributor",
  Acknowledgement AS "acknowledgement"`
	return []queryapi.Definition{
		{
			Name: DatasetsList,
			Args: []queryapi.ArgumentSpec{
				arg("search", queryapi.TypeNVarChar, queryapi.Optional(queryapi.String("query.search"), "")),
			},
			Template: func(queryapi.Args) string {
				like := concat(d, "'%'", "LOWER(@search)", "'%'")
				return `SELECT ` + columns + `
FROM tblDatasets
WHERE Visible = ` + trueLiteral(d) + `
  AND (@search = '' OR LOWER(Dataset_Name) LIKE ` + like + ` OR LOWER(Dataset_Long_Name) LIKE ` + like + `)
ORDER BY Dataset_Long_Name`
			},
		},
		{
			Name: DatasetsByShortName,
			Args: []queryapi.ArgumentSpec{
				arg("shortName", queryapi.TypeNVarChar, queryapi.NonEmptyString("params.shortName")),
			},
			Template: func(queryapi.Args) string {
				return `SELECT ` + columns + ` FROM tblDatasets WHERE LOWER(Dataset_Name) = LOWER(@shortName)`
			},
		},
	}
}
