package sqlinline

const QJobHistoryEnsureTable = `--sql 10469baf-44a2-4c5d-9eb1-cf16dfd3ce0b
create table if not exists generation_jobs_history (
    id text primary key,
    status text not null,
    prompt text not null,
    mode text not null,
    width integer not null,
    height integer not null,
    image_count integer not null,
    seed bigint,
    request_json jsonb not null,
    results_json jsonb,
    error_kind text,
    error_message text,
    pending_task_id text,
    created_at timestamptz not null,
    started_at timestamptz,
    completed_at timestamptz,
    archived_at timestamptz not null default now()
);
`

const QJobHistoryInsert = `--sql da32186e-3a98-4483-9d42-c5eb4493238e
insert into generation_jobs_history (
    id, status, prompt, mode, width, height, image_count, seed,
    request_json, results_json, error_kind, error_message, pending_task_id,
    created_at, started_at, completed_at
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
on conflict (id) do nothing;
`

const QJobHistoryRecent = `--sql 7bcc3efc-e27d-464e-a0eb-b247c14ccbcc
select id, status, request_json, results_json, coalesce(error_kind, ''), coalesce(error_message, ''),
       coalesce(pending_task_id, ''), created_at, started_at, completed_at
from generation_jobs_history
order by completed_at desc nulls last, created_at desc
limit $1;
`

const QJobHistoryGet = `--sql 5ffdc5dd-0940-421b-8aad-dc82726cf367
select id, status, request_json, results_json, coalesce(error_kind, ''), coalesce(error_message, ''),
       coalesce(pending_task_id, ''), created_at, started_at, completed_at
from generation_jobs_history
where id = $1;
`
