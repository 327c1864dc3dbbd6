package catalog

import (
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

func collections(d sqlexec.Dialect) []queryapi.Definition {
	return []queryapi.Definition{
		{
			Name: CollectionsListByUser,
			Args: []queryapi.ArgumentSpec{arg("userId", queryapi.TypeInt, queryapi.UserID())},
			Template: func(queryapi.Args) string {
				return `SELECT Collection_ID AS "id", Collection_Name AS "name", Private AS "private",
  Description AS "description", Created_At AS "createdAt", Modified_At AS "modifiedAt"
FROM tblCollections WHERE User_ID = @userId ORDER BY Collection_Name`
			},
		},
		{
			Name: CollectionsCreate,
			Args: []queryapi.ArgumentSpec{
				arg("User_ID", queryapi.TypeInt, queryapi.UserID()),
				arg("Collection_Name", queryapi.TypeNVarChar, queryapi.NonEmptyString("body.collectionName")),
				arg("Private", queryapi.TypeBit, queryapi.Optional(queryapi.Bool("body.private"), true)),
				arg("Description", queryapi.TypeNVarChar, queryapi.Optional(queryapi.String("body.description"), nil)),
			},
			Template: func(queryapi.Args) string {
				return d.InsertReturning("tblCollections", "Collection_ID", []string{"User_ID", "Collection_Name", "Private", "Description"})
			},
		},
	}
}
