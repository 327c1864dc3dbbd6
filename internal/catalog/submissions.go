package catalog

import (
	"dataportal/internal/sqlexec"
	"dataportal/pkg/queryapi"
)

// Submissions are visible to their submitter and to submission admins.
// Listing filters in SQL; retrieve reports the owner so the handler can
// tell a missing record from a forbidden one.
func submissions(sqlexec.Dialect) []queryapi.Definition {
	const columns = `s.Data_Submission_ID AS "id", s.Dataset AS "shortName", s.Dataset_Long_Name AS "longName",
  s.Submitter_ID AS "submitterId", s.Phase_ID AS "phaseId", s.Start_Date_Time AS "startDate",
  s.Last_Modified AS "lastModified", s.QC1_Completion_Date_Time AS "qc1CompletionDate"`
	const visible = `(@isAdmin = 1 OR s.Submitter_ID = @userId)`
	access := []queryapi.ArgumentSpec{
		arg("userId", queryapi.TypeInt, queryapi.UserID()),
		arg("isAdmin", queryapi.TypeInt, adminFlag()),
	}
	return []queryapi.Definition{
		{
			Name: SubmissionsListByUser,
			Args: access,
			Template: func(queryapi.Args) string {
				return `SELECT ` + columns + `
FROM tblData_Submissions s
WHERE ` + visible + `
ORDER BY s.Start_Date_Time DESC`
			},
		},
		{
			Name:     SubmissionsRetrieve,
			NotFound: "submission not found",
			Owner:    "submitterId",
			Args:     []queryapi.ArgumentSpec{arg("id", queryapi.TypeInt, queryapi.Int("params.id"))},
			Template: func(queryapi.Args) string {
				return `SELECT ` + columns + `,
  (SELECT COUNT(*) FROM tblData_Submission_Files f WHERE f.Data_Submission_ID = s.Data_Submission_ID) AS "fileCount"
FROM tblData_Submissions s
WHERE s.Data_Submission_ID = @id`
			},
		},
	}
}
